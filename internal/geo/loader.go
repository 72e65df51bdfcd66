package geo

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Header aliases accepted by LoadGazetteer, matched case-insensitively.
var (
	postalHeaders = []string{"geoid", "zcta", "zcta5", "zip", "zipcode", "postal_code", "postal"}
	latHeaders    = []string{"intptlat", "lat", "latitude"}
	lonHeaders    = []string{"intptlong", "intptlon", "lon", "lng", "longitude"}
)

// LoadGazetteer reads a Census ZCTA gazetteer file (tab separated) or a CSV
// with postal, latitude and longitude columns. Rows with unparseable
// coordinates are skipped.
func LoadGazetteer(path string) (*MemoryDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open gazetteer %s", path)
	}
	defer f.Close() //nolint:errcheck

	comma := '\t'
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		comma = ','
	}
	return readGazetteer(f, comma)
}

func readGazetteer(r io.Reader, comma rune) (*MemoryDataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "geo: read gazetteer header")
	}
	postalIdx := headerIndex(header, postalHeaders)
	latIdx := headerIndex(header, latHeaders)
	lonIdx := headerIndex(header, lonHeaders)
	if postalIdx < 0 || latIdx < 0 || lonIdx < 0 {
		return nil, eris.Errorf("geo: gazetteer header missing postal/lat/lon columns: %v", header)
	}

	ds := NewMemoryDataset(nil)
	var skipped int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "geo: read gazetteer row")
		}
		if len(rec) <= max(postalIdx, latIdx, lonIdx) {
			skipped++
			continue
		}
		postal := strings.TrimSpace(rec[postalIdx])
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[latIdx]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[lonIdx]), 64)
		p := Point{Lat: lat, Lon: lon}
		if postal == "" || latErr != nil || lonErr != nil || !p.Valid() {
			skipped++
			continue
		}
		ds.Add(postal, p)
	}

	zap.L().Debug("geo: gazetteer loaded",
		zap.Int("postal_codes", ds.Len()),
		zap.Int("skipped", skipped),
	)
	return ds, nil
}

func headerIndex(header []string, aliases []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	return -1
}

// LoadShapefile reads a Census ZCTA shapefile (or a ZIP archive containing
// one). The internal point attributes are used when present, otherwise the
// center of each shape's bounding box.
func LoadShapefile(path string) (*MemoryDataset, error) {
	shpPath := path
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "zcta-*")
		if err != nil {
			return nil, eris.Wrap(err, "geo: create extract dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		if err := extractZIP(path, dir); err != nil {
			return nil, eris.Wrap(err, "geo: extract shapefile archive")
		}
		shpPath, err = findFileByExt(dir, ".shp")
		if err != nil {
			return nil, eris.Wrap(err, "geo: find .shp file")
		}
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	postalIdx := fieldIndexPrefix(reader, "ZCTA5CE", "GEOID", "ZIP")
	if postalIdx < 0 {
		return nil, eris.New("geo: shapefile has no postal code field (ZCTA5CE*, GEOID*, ZIP)")
	}
	latIdx := fieldIndexPrefix(reader, "INTPTLAT")
	lonIdx := fieldIndexPrefix(reader, "INTPTLON")

	ds := NewMemoryDataset(nil)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		postal := strings.TrimSpace(strings.TrimRight(reader.Attribute(postalIdx), "\x00"))
		if postal == "" {
			skipped++
			continue
		}

		p, ok := attributePoint(reader, latIdx, lonIdx)
		if !ok {
			if shape == nil {
				skipped++
				continue
			}
			b := shape.BBox()
			p = Point{Lat: (b.MinY + b.MaxY) / 2, Lon: (b.MinX + b.MaxX) / 2}
		}
		if !p.Valid() {
			skipped++
			continue
		}
		ds.Add(postal, p)
	}

	zap.L().Debug("geo: shapefile loaded",
		zap.String("path", shpPath),
		zap.Int("postal_codes", ds.Len()),
		zap.Int("skipped", skipped),
	)
	return ds, nil
}

func attributePoint(reader *shp.Reader, latIdx, lonIdx int) (Point, bool) {
	if latIdx < 0 || lonIdx < 0 {
		return Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(reader.Attribute(latIdx), "\x00")), 64)
	if err != nil {
		return Point{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(reader.Attribute(lonIdx), "\x00")), 64)
	if err != nil {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

// fieldIndexPrefix returns the index of the first field whose name starts
// with any of the prefixes, or -1 if none does.
func fieldIndexPrefix(reader *shp.Reader, prefixes ...string) int {
	fields := reader.Fields()
	for _, prefix := range prefixes {
		for i, f := range fields {
			name := strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
			if strings.HasPrefix(name, prefix) {
				return i
			}
		}
	}
	return -1
}

// extractZIP extracts a ZIP archive's files (flattened) into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}
		out, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}
		_, err = io.Copy(out, rc)
		_ = out.Close()
		_ = rc.Close()
		if err != nil {
			return eris.Wrapf(err, "extract %s", f.Name)
		}
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
