/*
Package qr extracts login QR codes from rendered pages and validates
that what was extracted is actually a login QR.

The target application renders its login QR into a canvas or image
element, reachable only through the page itself. It also intermittently
serves promotional QR codes that are visually indistinguishable from
login ones; only the decoded URL tells them apart. Extraction therefore
always ends in validation.

# Extraction Loop

Extract drives an in-page candidate script that prefers large canvases
and falls back to square images, reloading images with cross-origin
permission so their pixels are readable. Each candidate comes back as a
PNG data URL; gozxing decodes the QR out of it. The loop retries on a
short interval because the page may still be rendering when extraction
starts.

A decoded QR that fails validation is re-extracted a few times; the
real login QR often replaces the promotional one within a second or
two.

# Validation

Validator checks three things in order against the decoded URL:

 1. the host is the target apex domain or a subdomain of it
 2. the URL does not match any download (promotional) shape
 3. the URL matches at least one login shape

The pattern lists are configuration, supplied by the target profile;
this package only enforces the discipline of having both lists.

# Failure Shape

Extract never returns an error. When the attempt budget is exhausted or
validation keeps failing, the Result carries a full-page screenshot in
place of the QR image plus an ErrorTag naming the stage that gave up.
The auth flow forwards that screenshot to the client, which can still
present it to the user as a last resort.

# See Also

  - pkg/twa for the target profile carrying the URL pattern lists
  - pkg/orchestrator for the auth flow consuming extraction results
*/
package qr
