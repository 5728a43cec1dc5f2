// Package session routes a reporter's direct messages to their report in
// progress. It creates a report on the start keyword, serialises messages per
// reporter, persists the conversation between messages, and discards it once
// the report is complete.
package session
