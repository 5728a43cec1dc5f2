// Package item archives chat messages so that a report link can be resolved
// to the reported message. It is the Item Fetch Service used by report
// sessions.
package item
