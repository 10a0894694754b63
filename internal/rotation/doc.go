// Package rotation tracks which column an indexed primer plate starts from
// on each run, so consecutive runs use the plate's columns in turn.
//
// The starting index advances by one per successful run and wraps after the
// last position. Records are kept either in a tab-separated file (the
// format older robots wrote to ~/.i5_record.txt) or in the run store.
package rotation
