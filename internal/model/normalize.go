package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFC normalization and trims surrounding whitespace.
// Molecule identity fields (SMILES, InChI, InChIKey) and user-facing names
// pass through here before persistence so that visually identical strings
// compare equal in unique indexes.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeMolecule normalizes all identity fields of a molecule in place.
func NormalizeMolecule(m *Molecule) {
	m.SMILES = NormalizeText(m.SMILES)
	m.InChI = NormalizeText(m.InChI)
	m.InChIKey = NormalizeText(m.InChIKey)
	m.CommonName = NormalizeText(m.CommonName)
}
