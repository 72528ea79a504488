// Package twa models the target web application: its URLs, cookies,
// capture patterns, and the two ways the service samples it.
//
// # Profile
//
// Profile is the single description of the application every flow
// reads: where QR login lives, how a logged-in URL looks, which cookie
// carries the session, which response URLs hold sampleable items, and
// the in-page scripts that resolve a user identity. Default() compiles
// in a generic deployment; operators overlay a YAML file on top of it,
// overriding only the fields the file names. Nothing else in the
// service hardcodes application specifics.
//
// # Sampling Families
//
// PageSampler browses: it arms a network capture, navigates to the
// surface page, and scrolls until enough items arrived or the scroll
// budget runs out. Items are collected from captured JSON bodies under
// the profile's item keys and deduplicated by item id. Fewer items
// than requested is not an error.
//
// ModuleSampler runs one signed fetch inside the page instead, with
// credentials include so the request rides the page's cookie jar and
// origin. The raw body and HTTP status come back regardless of
// outcome; callers judge the status code.
//
// # Auth Modules
//
// Signed-fetch request shaping is pluggable through AuthModule and
// Registry. A module owns the query parameters, headers, and signature
// a request needs; the stock "web" module mimics the application's own
// web client. The first registered module is the default; unknown
// names fail ErrUnknownModule.
//
// # Bundle Extraction
//
// Extractor turns a logged-in page into a credential bundle: cookies
// scoped to the application host, whitelisted token cookies mirrored
// into a map, a best-effort user identity, and device identifiers
// derived deterministically from the most stable identity seed
// available. A missing session cookie fails the extraction; a missing
// identity does not.
//
// # See Also
//
//   - pkg/orchestrator: drives both samplers and the extractor
//   - pkg/browser: the page operations these flows are sliced from
package twa
