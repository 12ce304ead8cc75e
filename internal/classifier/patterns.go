package classifier

import "regexp"

// sqlLogLineRe matches one record of the proxy's SQL log.
// Example:
//
//	[10/19/2026 14:32:05] C:10.0.0.7:51234 S:10.0.0.21:3306 OK 2500.125 "SELECT * FROM orders"
//
// Groups: time, client, server, result, latency, query.
var sqlLogLineRe = regexp.MustCompile(`^\[(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2})\] C:(\S*) S:(\S*) (OK|ERR) (\S+) "(.*)"\s*$`)

// sqlLogTimeLayout is the proxy's timestamp layout, written in local time.
const sqlLogTimeLayout = "01/02/2006 15:04:05"
