// Package archive stores device activity logs in S3-compatible object
// storage.
//
// Each poll uploads only the entries newer than the last archived one as a
// JSON array under a date-partitioned key:
//
//	<prefix>/year=2026/month=03/day=01/<hexID>-<unix>.json
package archive
