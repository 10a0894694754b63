// Package magbeads implements the column-wise steps of a magnetic bead
// cleanup: supernatant removal, bead resuspension, washes and the final
// elution transfer.
//
// Every step works a column at a time with a multi-channel pipette and
// takes the tip for column X from well X of a dedicated tip rack, so the
// same tips can be returned and reused by a later step on that column.
package magbeads
