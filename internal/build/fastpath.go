package build

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Fingerprint is the build's fast-path file set: for
// each successfully-built target, its output file(s) together with an XOR
// of their last-write-times. If a fresh Fingerprint matches the one
// recorded from the previous build, the driver can skip full preparation
// entirely.
type Fingerprint struct {
	// PerTarget maps a target name to the XOR of its outputs' mtimes
	// (as Unix nanoseconds).
	PerTarget map[string]uint64
}

// Compute builds a Fingerprint from every target's currently-known output
// files, reading each file's mtime from disk.
func Compute(outputs map[string][]string) (Fingerprint, error) {
	fp := Fingerprint{PerTarget: make(map[string]uint64, len(outputs))}
	for name, files := range outputs {
		var x uint64
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				return Fingerprint{}, fmt.Errorf("fastpath: stat %s: %w", f, err)
			}
			x ^= uint64(info.ModTime().UnixNano())
		}
		fp.PerTarget[name] = x
	}
	return fp, nil
}

// Matches reports whether fp and prior record identical per-target
// fingerprints — the condition under which a build can skip preparation.
func (fp Fingerprint) Matches(prior Fingerprint) bool {
	if len(fp.PerTarget) != len(prior.PerTarget) {
		return false
	}
	for name, x := range fp.PerTarget {
		px, ok := prior.PerTarget[name]
		if !ok || px != x {
			return false
		}
	}
	return true
}

// LoadFingerprint reads a fast-path file written by SaveFingerprint. A
// missing file is not an error; it returns a zero-value Fingerprint so the
// first build of a tree always takes the slow path.
func LoadFingerprint(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Fingerprint{PerTarget: map[string]uint64{}}, nil
	}
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	fp := Fingerprint{PerTarget: map[string]uint64{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		x, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			continue
		}
		fp.PerTarget[parts[0]] = x
	}
	return fp, scanner.Err()
}

// SaveFingerprint writes fp as a tab-separated "name\thex" file.
func SaveFingerprint(path string, fp Fingerprint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for name, x := range fp.PerTarget {
		if _, err := fmt.Fprintf(w, "%s\t%016x\n", name, x); err != nil {
			return err
		}
	}
	return w.Flush()
}
