// Package labware names wells, columns, and pipetting locations on a deck.
//
// It deliberately knows nothing about physical geometry: a Location is a
// labware label, a well name such as "A1", and an anchor/offset pair that
// the device layer resolves. The package also owns the 96-to-384 well
// layouts used when stamping four sample plates into one assay plate.
package labware
