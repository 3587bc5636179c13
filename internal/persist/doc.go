// Package persist performs the one network write behind every field save.
//
// A Client wraps a Backend, bounds each call with a timeout and turns the
// result into a classified save.Outcome. It never retries: retry policy
// belongs to the retry controller, and a Client call maps to exactly one
// backend call.
//
// HTTPBackend speaks the record endpoint contract:
//
//	GET   {base}/api/records/{recordID}                 -> {"id", "fields", "versions"}
//	PATCH {base}/api/records/{recordID}/fields/{field}  {"value": v} -> {"ok": true, "version": n}
//
// Non-2xx responses carry {"error": message, "category": name}; a 2xx body
// with "ok": false is a payload-level rejection and classified as
// validation.
package persist
