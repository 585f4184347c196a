// Package segment implements audience queries and frozen segments.
//
// Query turns a plain-language prompt into a whitelisted filter (through
// segmentation.Translator) and runs it against the customer store. Save
// captures the resulting customer IDs as a named segment; the snapshot is
// never re-evaluated, so later changes to customers do not move people in or
// out of an existing segment.
package segment
