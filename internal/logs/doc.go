// Package logs reads pipettor's log file back for the CLI.
//
// Console records span several lines (a header plus indented "- key: value"
// fields), so the file is read as entries rather than raw lines. Entries can
// be narrowed to one run by id, and Follow polls the file for new entries
// until its context ends.
package logs
