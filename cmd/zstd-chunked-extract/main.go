// Command zstd-chunked-extract reconstructs the original tar archive from a
// zstd:chunked layer file on local disk and writes it to stdout (or a file
// given with -o). It is the local, single-threaded counterpart to
// zstd-chunked-pull: every reference is resolved by slicing the input file
// and decompressing in place, with no network involved.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbatts/tar-split/archive/tar"

	"github.com/containers/zstd-chunked/pkg/chunked"
)

var (
	outputPath string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zstd-chunked-extract:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zstd-chunked-extract LAYER",
		Short: "Reconstruct a tar archive from a zstd:chunked layer file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return extract(args[0], outputPath)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the reconstructed tar here instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging from pkg/chunked")
	return cmd
}

func extract(layerPath, outputPath string) error {
	f, err := os.Open(layerPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", layerPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting %s: %w", layerPath, err)
	}

	refs, err := metadataReferences(f, info.Size())
	if err != nil {
		return err
	}

	manifestFrame, err := readRange(f, refs.Manifest.Range)
	if err != nil {
		return fmt.Errorf("reading manifest blob: %w", err)
	}
	tarSplitFrame, err := readRange(f, refs.TarSplit.Range)
	if err != nil {
		return fmt.Errorf("reading tarsplit blob: %w", err)
	}

	stream, err := chunked.NewFromFrames(manifestFrame, tarSplitFrame)
	if err != nil {
		return fmt.Errorf("building reconstruction plan: %w", err)
	}

	out := io.Writer(os.Stdout)
	if outputPath != "" {
		outFile, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outputPath, err)
		}
		defer outFile.Close()
		out = outFile
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("initializing zstd decoder: %w", err)
	}
	defer decoder.Close()

	resolve := func(ref chunked.ContentReference) ([]byte, error) {
		compressed, err := readRange(f, ref.Range)
		if err != nil {
			return nil, fmt.Errorf("reading range %v: %w", ref.Range, err)
		}
		decompressed, err := decoder.DecodeAll(compressed, make([]byte, 0, ref.Size))
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", ref.Digest, err)
		}
		return decompressed, nil
	}

	if err := stream.WriteTo(out, resolve); err != nil {
		return err
	}

	if outputPath != "" {
		return logTarSummary(outputPath)
	}
	return nil
}

// logTarSummary re-reads the reconstructed tar with vbatts/tar-split's
// archive/tar, the same tar reader containers/storage itself decodes with
// (it tolerates a couple of vendor quirks the standard library's reader
// rejects), and logs how many entries it found. It is a smoke check, not a
// correctness proof: WriteTo already guarantees byte-for-byte reconstruction
// when every resolve call succeeds.
func logTarSummary(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopening %s for validation: %w", path, err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var entries int
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s is not a well-formed tar archive: %w", path, err)
		}
		entries++
	}
	logrus.Debugf("%s: %d tar entries", path, entries)
	return nil
}

// metadataReferences locates the manifest/tarsplit blobs by reading the
// trailing footer. A real deployment would fall back to OCI annotations when
// the caller has an image manifest handy rather than a bare layer file; this
// example only ever has the file, so the footer is the only source it tries.
func metadataReferences(f *os.File, size int64) (*chunked.MetadataReferences, error) {
	suffixSize := int64(4096)
	if suffixSize > size {
		suffixSize = size
	}
	suffix := make([]byte, suffixSize)
	if _, err := f.ReadAt(suffix, size-suffixSize); err != nil {
		return nil, fmt.Errorf("reading trailing %d bytes: %w", suffixSize, err)
	}

	refs, ok := new(chunked.MetadataReferences).FromFooter(suffix)
	if !ok {
		return nil, fmt.Errorf("%s does not look like a zstd:chunked layer (no recognizable footer)", f.Name())
	}
	return refs, nil
}

func readRange(r io.ReaderAt, rng chunked.ByteRange) ([]byte, error) {
	buf := make([]byte, rng.End-rng.Start)
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, int64(rng.Start)); err != nil {
		return nil, err
	}
	return buf, nil
}
