package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

// MetadataVersion is the current checkpoint format version.
const MetadataVersion = 2

// Sentinel errors for checkpoint validation.
var (
	ErrInputMismatch = errors.New("checkpoint: input mismatch")
	ErrVersion       = errors.New("checkpoint: unsupported version")
	ErrChecksum      = errors.New("checkpoint: checksum mismatch")
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	metadataName = "checkpoint"
	decoderName  = "decoder"
	streamFile   = "decoded.lz4"
)

// DefaultDir returns ~/.streamvit/checkpoints.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".streamvit", "checkpoints")
}

// InputHash returns a short stable hash naming the checkpoint of an input.
func InputHash(input string) string {
	h := sha256.Sum256([]byte(input))

	return hex.EncodeToString(h[:8])
}

// Fingerprint identifies what d decodes with: the model parameters, the
// arithmetic and the start state. A checkpoint only resumes into a decoder
// with the same fingerprint.
func Fingerprint(d *viterbi.Decoder) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s/%s/%d", d.Model().Fingerprint(), d.Arithmetic(), d.Start())

	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Manager saves and restores decoder checkpoints for one input stream.
type Manager struct {
	BaseDir   string
	Input     string
	InputHash string

	meta  Codec
	state Codec
	now   func() time.Time
}

// NewManager creates a manager under baseDir for the named input.
func NewManager(baseDir, input string) *Manager {
	return &Manager{
		BaseDir:   baseDir,
		Input:     input,
		InputHash: InputHash(input),
		meta:      JSONCodec{Indent: "  "},
		state:     GobCodec{},
		now:       time.Now,
	}
}

// CheckpointDir returns the directory holding this input's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.InputHash)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.CheckpointDir(), metadataName+m.meta.Extension())
}

// Exists reports whether a checkpoint has been written.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.CheckpointDir())
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Checkpoint snapshots d and saves it together with the number of
// observations consumed so far.
func (m *Manager) Checkpoint(d *viterbi.Decoder, consumed int) error {
	snap, err := d.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot decoder: %w", err)
	}

	return m.Save(snap, Fingerprint(d), consumed)
}

// Save writes snap taken from a decoder with the given fingerprint. The decoder state goes to a gob file, the decoded
// stream to an LZ4 block, and the metadata is written last so that an
// interrupted save never looks complete.
func (m *Manager) Save(snap *viterbi.Snapshot, fingerprint string, consumed int) error {
	dir := m.CheckpointDir()

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	body := *snap
	body.Decoded = nil

	var state bytes.Buffer

	err = m.state.Encode(&state, &body)
	if err != nil {
		return fmt.Errorf("encode decoder state: %w", err)
	}

	stream, err := CompressStates(snap.Decoded)
	if err != nil {
		return err
	}

	stateFile := decoderName + m.state.Extension()

	files := map[string][]byte{stateFile: state.Bytes(), streamFile: stream}
	checksums := make(map[string]string, len(files))

	for name, data := range files {
		err = writeFile(filepath.Join(dir, name), data)
		if err != nil {
			return err
		}

		checksums[name] = checksum(data)
	}

	meta := Metadata{
		Version:   MetadataVersion,
		Input:     m.Input,
		InputHash: m.InputHash,
		Decoder:   fingerprint,
		CreatedAt: m.now().UTC().Format(time.RFC3339),
		States:    snap.States,
		Symbols:   snap.Symbols,
		Progress: Progress{
			Observations: consumed,
			Emitted:      snap.Emitted,
			Decoded:      len(snap.Decoded),
			Convergences: snap.Convergences,
		},
		Checksums: checksums,
	}

	var metaBuf bytes.Buffer

	err = m.meta.Encode(&metaBuf, meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	return writeFile(m.MetadataPath(), metaBuf.Bytes())
}

// LoadMetadata reads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata

	err = m.meta.Decode(bytes.NewReader(data), &meta)
	if err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &meta, nil
}

// Validate checks that the checkpoint belongs to this input and format.
func (m *Manager) Validate() error {
	meta, err := m.LoadMetadata()
	if err != nil {
		return err
	}

	if meta.Version != MetadataVersion {
		return fmt.Errorf("%w: %d", ErrVersion, meta.Version)
	}

	if meta.Input != m.Input {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrInputMismatch, meta.Input, m.Input)
	}

	return nil
}

// Load reads and verifies the saved snapshot.
func (m *Manager) Load() (*viterbi.Snapshot, *Metadata, error) {
	meta, err := m.LoadMetadata()
	if err != nil {
		return nil, nil, err
	}

	dir := m.CheckpointDir()

	state, err := readVerified(dir, decoderName+m.state.Extension(), meta.Checksums)
	if err != nil {
		return nil, nil, err
	}

	var snap viterbi.Snapshot

	err = m.state.Decode(bytes.NewReader(state), &snap)
	if err != nil {
		return nil, nil, fmt.Errorf("decode decoder state: %w", err)
	}

	stream, err := readVerified(dir, streamFile, meta.Checksums)
	if err != nil {
		return nil, nil, err
	}

	snap.Decoded, err = DecompressStates(stream, meta.Progress.Decoded)
	if err != nil {
		return nil, nil, err
	}

	return &snap, meta, nil
}

// Resume validates the checkpoint and restores it into d. It returns the
// number of observations consumed before the checkpoint was taken.
func (m *Manager) Resume(d *viterbi.Decoder) (int, error) {
	err := m.Validate()
	if err != nil {
		return 0, err
	}

	snap, meta, err := m.Load()
	if err != nil {
		return 0, err
	}

	if fp := Fingerprint(d); meta.Decoder != fp {
		return 0, fmt.Errorf("%w: checkpoint decoder %s, got %s (model, arithmetic or start state changed)",
			ErrInputMismatch, meta.Decoder, fp)
	}

	err = d.Restore(snap)
	if err != nil {
		return 0, fmt.Errorf("restore decoder: %w", err)
	}

	return meta.Progress.Observations, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func readVerified(dir, name string, checksums map[string]string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	if got := checksum(data); got != checksums[name] {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, name)
	}

	return data, nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"

	err := os.WriteFile(tmp, data, filePerm)
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}

	return nil
}
