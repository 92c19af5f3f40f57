package pipeline

import (
	"path/filepath"
	"strings"
)

// MaskSuffix replaces the band token of the green file name.
const MaskSuffix = "_NDWI_mask"

// MaskPath derives the output file from the green band path: the trailing
// "_<band>" token of the stem is replaced by MaskSuffix and the extension is
// kept, so LC08_..._B3.TIF becomes LC08_..._NDWI_mask.TIF. A stem without
// an underscore gets the suffix appended. A non-empty outputDir replaces
// the directory.
func MaskPath(greenPath, outputDir string) string {
	dir, name := filepath.Split(greenPath)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if i := strings.LastIndex(stem, "_"); i > 0 {
		stem = stem[:i]
	}
	if outputDir != "" {
		dir = outputDir
	}
	return filepath.Join(dir, stem+MaskSuffix+ext)
}

// IsMaskPath reports whether name looks like a file written by MaskPath.
func IsMaskPath(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), MaskSuffix)
}

// PreviewPath returns the quicklook image path for a mask.
func PreviewPath(maskPath, ext string) string {
	return strings.TrimSuffix(maskPath, filepath.Ext(maskPath)) + "_preview" + ext
}
