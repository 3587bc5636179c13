// Package server is the reference record backend: a chi router over the
// SQLite store that speaks the per-field write contract used by
// persist.HTTPBackend.
//
// Routes:
//
//	GET   /health
//	POST  /api/records                              {id, fields}
//	GET   /api/records/{recordID}                   {id, fields, versions}
//	PATCH /api/records/{recordID}/fields/{field}    {value} -> {ok, version}
//
// Every non-2xx response carries a persist.ErrorBody whose category lets
// the client classify the failure without guessing from the status code.
package server
