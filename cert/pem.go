package cert

import (
	"encoding/pem"
	"fmt"
	"io"
)

func pemDecode(data []byte, blockType string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("unexpected PEM block type %q, want %q", block.Type, blockType)
	}
	return block.Bytes, nil
}

func pemEncodeCert(w io.Writer, der []byte) error {
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func pemEncodeKey(w io.Writer, der []byte) error {
	return pem.Encode(w, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

// CertPEM returns the PEM-encoded root certificate for the CA, suitable for
// handing to an OS trust store or a client's trust configuration.
func CertPEM(ca CA) ([]byte, error) {
	root := ca.GetRootCA()
	if root == nil {
		return nil, fmt.Errorf("CA has no root certificate")
	}
	buf := make([]byte, 0, len(root.Raw)*2)
	w := &sliceWriter{buf: buf}
	if err := pemEncodeCert(w, root.Raw); err != nil {
		return nil, err
	}
	return w.buf, nil
}

type sliceWriter struct{ buf []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}
