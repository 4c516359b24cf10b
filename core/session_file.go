package core

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const messageTypeRequestFiles = "request_files"
const messageTypeUploadedFile = "uploaded_file"

// FileNotice is delivered to a Session's OnFile callback once a received
// file-mode frame's bytes have been written to disk (or failed to write).
type FileNotice struct {
	IndicationID string
	SourceID     string
	SourceSubID  string
	TargetID     string
	TargetSubID  string
	SourcePath   string
	TargetPath   string
	SavedPath    string // TargetPath on success, empty on failure
	Err          error
}

// encodeFileFrame lays out a whole-file transfer per spec: every field is
// preceded by its own 64-bit little-endian length, in this fixed order:
//
//	len|indication_id | len|source_id | len|source_sub | len|target_id |
//	len|target_sub | len|source_path | len|target_path | len|file_bytes
func encodeFileFrame(indicationID, sourceID, sourceSubID, targetID, targetSubID, sourcePath, targetPath string, fileBytes []byte) []byte {
	fields := [][]byte{
		[]byte(indicationID),
		[]byte(sourceID),
		[]byte(sourceSubID),
		[]byte(targetID),
		[]byte(targetSubID),
		[]byte(sourcePath),
		[]byte(targetPath),
		fileBytes,
	}
	size := 0
	for _, f := range fields {
		size += 8 + len(f)
	}
	buf := make([]byte, 0, size)
	lenBuf := make([]byte, 8)
	for _, f := range fields {
		binary.LittleEndian.PutUint64(lenBuf, uint64(len(f)))
		buf = append(buf, lenBuf...)
		buf = append(buf, f...)
	}
	return buf
}

func decodeFileFrame(payload []byte) (indicationID, sourceID, sourceSubID, targetID, targetSubID, sourcePath, targetPath string, fileBytes []byte, err error) {
	fields := make([][]byte, 0, 8)
	pos := 0
	for len(fields) < 8 {
		if pos+8 > len(payload) {
			return "", "", "", "", "", "", "", nil, fmt.Errorf("%w: file frame truncated", ErrMalformedContainer)
		}
		n := int(binary.LittleEndian.Uint64(payload[pos : pos+8]))
		pos += 8
		if pos+n > len(payload) {
			return "", "", "", "", "", "", "", nil, fmt.Errorf("%w: file frame field overruns payload", ErrMalformedContainer)
		}
		fields = append(fields, payload[pos:pos+n])
		pos += n
	}
	return string(fields[0]), string(fields[1]), string(fields[2]), string(fields[3]),
		string(fields[4]), string(fields[5]), string(fields[6]), fields[7], nil
}

// SendFile reads sourcePath and runs it through the file pipeline whole, as
// a single file-mode frame addressed to (targetID, targetSubID).
func (s *Session) SendFile(p Priority, indicationID, targetID, targetSubID, sourcePath, targetPath string) error {
	if s.State() != HandshakeConfirmed {
		return ErrNotConfirmed
	}
	if s.opts.SessionType == SessionTypeMessageLine || s.opts.SessionType == SessionTypeBinaryLine {
		return ErrWrongSessionType
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailed, err)
	}
	payload := encodeFileFrame(indicationID, s.opts.SourceID, s.opts.SourceSubID, targetID, targetSubID, sourcePath, targetPath, data)
	return s.sendPipelined(p, FrameModeFile, payload)
}

// handleFileFrame writes a received file frame's bytes to target_path
// (creating parent directories as needed) and reports the outcome through
// OnFile, then sends a notification frame back to the sender.
func (s *Session) handleFileFrame(plain []byte) error {
	if s.opts.SessionType == SessionTypeMessageLine || s.opts.SessionType == SessionTypeBinaryLine {
		return ErrWrongSessionType
	}
	indicationID, sourceID, sourceSubID, targetID, targetSubID, sourcePath, targetPath, fileBytes, err := decodeFileFrame(plain)
	if err != nil {
		return err
	}

	notice := FileNotice{
		IndicationID: indicationID,
		SourceID:     sourceID,
		SourceSubID:  sourceSubID,
		TargetID:     targetID,
		TargetSubID:  targetSubID,
		SourcePath:   sourcePath,
		TargetPath:   targetPath,
	}
	if writeErr := writeFileCreatingParents(targetPath, fileBytes); writeErr != nil {
		notice.Err = writeErr
	} else {
		notice.SavedPath = targetPath
	}

	if s.onFile != nil {
		s.onFile(notice)
	}

	ack := NewContainer()
	ack.SetMessageType(messageTypeUploadedFile)
	ack.SetSource(targetID, targetSubID)
	ack.SetTarget(sourceID, sourceSubID)
	ack.Add(NewString("indication_id", indicationID))
	ack.Add(NewString("target_id", targetID))
	ack.Add(NewString("target_sub_id", targetSubID))
	ack.Add(NewString("target_path", targetPath))
	ack.Add(NewString("saved_path", notice.SavedPath))
	return s.sendControlContainer(ack)
}

func writeFileCreatingParents(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailed, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailed, err)
	}
	return nil
}

// handleRequestFiles services an incoming request_files message: for each
// (source_path, target_path) pair it hands off to the registered loader,
// which is expected to read source_path and push it through SendFile back
// to the requester under the same indication_id. With no loader registered
// it falls back to reading source_path off the local filesystem directly.
func (s *Session) handleRequestFiles(c *Container) error {
	indicationID := c.GetValue("indication_id", 0).ToString()
	sources := c.ValueArray("source_path")
	targets := c.ValueArray("target_path")
	h := c.Header()
	n := len(sources)
	if len(targets) < n {
		n = len(targets)
	}
	loader := s.fileLoader
	if loader == nil {
		loader = s.loadFromLocalDisk
	}
	for i := 0; i < n; i++ {
		sourcePath := sources[i].ToString()
		targetPath := targets[i].ToString()
		if err := loader(indicationID, s.opts.SourceID, s.opts.SourceSubID, h.SourceID, h.SourceSubID, sourcePath, targetPath); err != nil {
			s.log.WithError(err).WithField("indication_id", indicationID).Warn("request_files loader failed")
		}
	}
	return nil
}

// loadFromLocalDisk is the default request_files loader: it reads
// sourcePath off this node's filesystem and pushes it back to the
// requester through the ordinary file pipeline.
func (s *Session) loadFromLocalDisk(indicationID, _, _, targetID, targetSubID, sourcePath, targetPath string) error {
	return s.SendFile(PriorityNormal, indicationID, targetID, targetSubID, sourcePath, targetPath)
}

// RequestFiles asks the peer to send back the listed (source_path,
// target_path) pairs under a single indication_id. Like echo, this is
// protocol control traffic and goes out regardless of the session's
// declared session_type.
func (s *Session) RequestFiles(indicationID string, pairs [][2]string) error {
	if s.State() != HandshakeConfirmed {
		return ErrNotConfirmed
	}
	c := NewContainer()
	c.SetMessageType(messageTypeRequestFiles)
	c.SetSource(s.opts.SourceID, s.opts.SourceSubID)
	c.Add(NewString("indication_id", indicationID))
	for _, pair := range pairs {
		c.Add(NewString("source_path", pair[0]))
		c.Add(NewString("target_path", pair[1]))
	}
	return s.sendControlContainer(c)
}
