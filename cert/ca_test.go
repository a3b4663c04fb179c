package cert

import (
	"os"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestGetStorePath(t *testing.T) {
	c := qt.New(t)
	path, err := getStorePath("")
	c.Assert(err, qt.IsNil)
	c.Assert(path, qt.Not(qt.Equals), "", qt.Commentf("should have a default path"))
}

func TestGetStorePathExplicit(t *testing.T) {
	c := qt.New(t)
	path, err := getStorePath("/tmp/proxide-ca")
	c.Assert(err, qt.IsNil)
	c.Assert(path, qt.Equals, "/tmp/proxide-ca")
}

func TestNewSelfSignCAGeneratesAndPersists(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	caAPI, err := NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)
	ca := caAPI.(*SelfSignCA)

	c.Assert(ca.GetRootCA().IsCA, qt.IsTrue)

	fileContent, err := os.ReadFile(ca.caFile())
	c.Assert(err, qt.IsNil)
	c.Assert(len(fileContent) > 0, qt.IsTrue)

	// Reload from disk should reuse the persisted keypair.
	reloadedAPI, err := NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)
	reloaded := reloadedAPI.(*SelfSignCA)
	c.Assert(reloaded.GetRootCA().SerialNumber.Cmp(ca.GetRootCA().SerialNumber), qt.Equals, 0)
}

func TestGetCertMintsAndCaches(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	caAPI, err := NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)

	leaf1, err := caAPI.GetCert("example.test")
	c.Assert(err, qt.IsNil)
	c.Assert(leaf1.Leaf.DNSNames, qt.Contains, "example.test")

	leaf2, err := caAPI.GetCert("example.test")
	c.Assert(err, qt.IsNil)
	c.Assert(leaf2.Leaf.SerialNumber.Cmp(leaf1.Leaf.SerialNumber), qt.Equals, 0, qt.Commentf("cache hit should return the same leaf"))
}

func TestLoadOrCreateCAFilesUsesDistinctPaths(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	certPath := dir + "/my-cert.pem"
	keyPath := dir + "/nested/my-key.pem"

	caAPI, err := LoadOrCreateCAFiles(certPath, keyPath, false)
	c.Assert(err, qt.IsNil)

	_, err = os.Stat(certPath)
	c.Assert(err, qt.IsNil)
	_, err = os.Stat(keyPath)
	c.Assert(err, qt.IsNil)

	reloaded, err := LoadOrCreateCAFiles(certPath, keyPath, false)
	c.Assert(err, qt.IsNil)
	c.Assert(reloaded.GetRootCA().SerialNumber.Cmp(caAPI.GetRootCA().SerialNumber), qt.Equals, 0)
}

func TestGetCertIPHost(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	caAPI, err := NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)

	leaf, err := caAPI.GetCert("127.0.0.1")
	c.Assert(err, qt.IsNil)
	c.Assert(len(leaf.Leaf.IPAddresses) > 0, qt.IsTrue)
}
