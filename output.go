package hylord

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// generateCellTypeList returns one name per reference column: the
// names from the optional list file, padded with generated
// placeholders for the remaining (typically novel) columns.
func generateCellTypeList(cellTypeListFile string, numCellTypes, threads int) ([]string, error) {
	var names []string
	if cellTypeListFile != "" {
		records, err := readDataset(cellTypeListFile, parseCellType, nil, nil, threads)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			names = append(names, record.Name)
		}
	}
	if len(names) > numCellTypes {
		return nil, fmt.Errorf("cell type list has %d names but the reference matrix has %d columns", len(names), numCellTypes)
	}
	for i := 1; len(names) < numCellTypes; i++ {
		names = append(names, fmt.Sprintf("unknown_cell_type_%d", i))
	}
	return names, nil
}

// resolveOutputPath prepares outPath for writing without clobbering
// anything: parent directories are created, and an existing file makes
// the output shift to name_1.ext, name_2.ext, and so on.
func resolveOutputPath(outPath string) (string, error) {
	info, err := os.Stat(outPath)
	if err == nil && info.IsDir() {
		return "", fmt.Errorf("failed to write to file %q: path is an existing directory", outPath)
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return "", fmt.Errorf("failed to write to file %q: %w", outPath, err)
		}
	}
	if err != nil {
		return outPath, nil
	}

	ext := filepath.Ext(outPath)
	stem := strings.TrimSuffix(outPath, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, counter, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			log.Warnf("file %q already exists, writing to %q instead", filepath.Base(outPath), filepath.Base(candidate))
			return candidate, nil
		}
	}
}

// writeMetrics formats the final proportions as tab-separated
// name/percentage pairs and writes them to stdout or, when configured,
// to a collision-avoided output file.
func writeMetrics(config *config, proportions []float64, stdout io.Writer) error {
	names, err := generateCellTypeList(config.cellTypeListFile, len(proportions), config.threads)
	if err != nil {
		return err
	}

	var buffer bytes.Buffer
	for i, name := range names {
		fmt.Fprintf(&buffer, "%s\t%s\n", name, strconv.FormatFloat(convertToPercent(proportions[i]), 'g', -1, 64))
	}

	if config.outFilePath == "" {
		_, err := stdout.Write(buffer.Bytes())
		return err
	}
	outPath, err := resolveOutputPath(config.outFilePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, buffer.Bytes(), 0666); err != nil {
		return fmt.Errorf("failed to write to file %q: %w", outPath, err)
	}
	return nil
}

// writeReferenceMatrix dumps the (refined) reference matrix as a
// float64 .npy file for inspection from Python.
func writeReferenceMatrix(path string, reference *mat.Dense) error {
	output, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to write to file %q: %w", path, err)
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	rows, cols := reference.Dims()
	npw.Shape = []int{rows, cols}
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, reference.RawRowView(i)...)
	}
	if err := npw.WriteFloat64(data); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return output.Close()
}
