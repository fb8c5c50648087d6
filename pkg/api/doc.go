// Package api is the HTTP surface of the pipeline.
//
//	GET  /v1/sources                        configured sources
//	GET  /v1/sources/{source}/tiers         tier table with rollup file status
//	GET  /v1/sources/{source}/rollups       ?hours=N, or ?tier=T&start=S&end=E
//	POST /v1/sources/{source}/samples       {"samples": [{...}, ...]}
//	GET  /v1/ws                             stream of newly appended rollup rows
//
// A rollup query for a tier that has never been written answers 404 with
// {"success": false}, so dashboards can tell "no data" from zero values.
package api
