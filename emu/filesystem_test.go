package emu

import (
	"os"
	"path/filepath"
	"testing"

	"covm/logs"
	"covm/value"
)

func testVolumes(t *testing.T) (tmpfs, persistent *Filesystem, c *Client) {
	t.Helper()
	cl, _ := newTestClient(t, "")
	for _, pc := range cl.Components("filesystem", true) {
		f := pc.(*Filesystem)
		if f.tmpfs {
			tmpfs = f
		} else {
			persistent = f
		}
	}
	if tmpfs == nil || persistent == nil {
		t.Fatal("default machine lacks a tmpfs or a persistent volume")
	}
	return tmpfs, persistent, cl
}

func TestFilesystemReadWrite(t *testing.T) {
	_, f, _ := testVolumes(t)

	res, err := f.Invoke("open", value.PackOf("/notes.txt", "w"))
	if err != nil {
		t.Fatal(err)
	}
	h := res.At(0)
	if h.Kind() != value.KindHandle {
		t.Fatalf("open returned %v, want a handle", h)
	}
	if _, err := f.Invoke("write", value.Pack{h, value.String("hello disk")}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Invoke("close", value.Pack{h}); err != nil {
		t.Fatal(err)
	}
	// closed handles are rejected
	if _, err := f.Invoke("write", value.Pack{h, value.String("again")}); err == nil {
		t.Error("write through a closed handle succeeded")
	}

	res, err = f.Invoke("open", value.PackOf("/notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	h = res.At(0)
	res, err = f.Invoke("read", value.Pack{h, value.Integer(64)})
	if err != nil || res.At(0).Str() != "hello disk" {
		t.Fatalf("read == %v, %v", res, err)
	}
	res, err = f.Invoke("read", value.Pack{h, value.Integer(64)})
	if err != nil || !res.At(0).IsNil() {
		t.Errorf("read at EOF == %v, %v, want nil", res, err)
	}
	f.Invoke("close", value.Pack{h})
}

func TestFilesystemSeek(t *testing.T) {
	_, f, _ := testVolumes(t)
	res, _ := f.Invoke("open", value.PackOf("/s.txt", "w"))
	h := res.At(0)
	f.Invoke("write", value.Pack{h, value.String("abcdef")})
	f.Invoke("close", value.Pack{h})

	res, _ = f.Invoke("open", value.PackOf("/s.txt"))
	h = res.At(0)
	res, err := f.Invoke("seek", value.Pack{h, value.String("set"), value.Integer(3)})
	if err != nil || res.At(0).Int() != 3 {
		t.Fatalf("seek == %v, %v", res, err)
	}
	res, _ = f.Invoke("read", value.Pack{h, value.Integer(10)})
	if res.At(0).Str() != "def" {
		t.Errorf("read after seek == %v", res)
	}
	if _, err := f.Invoke("seek", value.Pack{h, value.String("sideways"), value.Integer(0)}); err == nil {
		t.Error("invalid whence accepted")
	}
	f.Invoke("close", value.Pack{h})
}

func TestFilesystemTree(t *testing.T) {
	_, f, _ := testVolumes(t)

	if _, err := f.Invoke("makeDirectory", value.PackOf("/a/b")); err != nil {
		t.Fatal(err)
	}
	res, _ := f.Invoke("isDirectory", value.PackOf("/a/b"))
	if !res.At(0).Bool() {
		t.Error("created directory not recognized")
	}
	res, _ = f.Invoke("exists", value.PackOf("/a/b"))
	if !res.At(0).Bool() {
		t.Error("created directory does not exist")
	}

	w, _ := f.Invoke("open", value.PackOf("/a/x.txt", "w"))
	f.Invoke("write", value.Pack{w.At(0), value.String("data")})
	f.Invoke("close", value.Pack{w.At(0)})

	res, err := f.Invoke("list", value.PackOf("/a"))
	if err != nil {
		t.Fatal(err)
	}
	tab := res.At(0).Table()
	if tab.Len() != 2 || tab.GetIndex(1).Str() != "b/" || tab.GetIndex(2).Str() != "x.txt" {
		t.Errorf("list == %v", res.At(0))
	}

	res, _ = f.Invoke("size", value.PackOf("/a/x.txt"))
	if res.At(0).Int() != 4 {
		t.Errorf("size == %v, want 4", res)
	}
	res, _ = f.Invoke("spaceUsed", nil)
	if res.At(0).Int() < 4 {
		t.Errorf("spaceUsed == %v", res)
	}
	res, _ = f.Invoke("lastModified", value.PackOf("/a/x.txt"))
	if res.At(0).Int() <= 0 {
		t.Errorf("lastModified == %v", res)
	}

	if _, err := f.Invoke("rename", value.PackOf("/a/x.txt", "/a/y.txt")); err != nil {
		t.Fatal(err)
	}
	res, _ = f.Invoke("exists", value.PackOf("/a/y.txt"))
	if !res.At(0).Bool() {
		t.Error("renamed file missing")
	}
	if _, err := f.Invoke("remove", value.PackOf("/a")); err != nil {
		t.Fatal(err)
	}
	res, _ = f.Invoke("exists", value.PackOf("/a"))
	if res.At(0).Bool() {
		t.Error("removed tree still exists")
	}
}

func TestFilesystemEscapesConfined(t *testing.T) {
	_, f, c := testVolumes(t)
	marker := filepath.Join(c.EnvPath(), "client.cfg")

	res, err := f.Invoke("exists", value.PackOf("/../client.cfg"))
	if err != nil {
		// rejecting the path outright is fine too
		return
	}
	if res.At(0).Bool() {
		t.Errorf("path escaped the volume root to %s", marker)
	}
}

func TestTmpfsClearedAtBoot(t *testing.T) {
	env := t.TempDir()
	stale := filepath.Join(env, "tmp", "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	host := NewHost(&testFramer{})
	c := New(host, env, logs.Discard())
	if !c.Load() {
		t.Fatal("load failed")
	}
	defer c.Close()
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("tmpfs contents survived boot")
	}
}

func TestFilesystemReadOnly(t *testing.T) {
	env := t.TempDir()
	writeConfig(t, env, `
[[components]]
key = "computer"

[[components]]
key = "filesystem"
readonly = true
`)
	c := New(NewHost(&testFramer{}), env, logs.Discard())
	if !c.Load() {
		t.Fatal("load failed")
	}
	defer c.Close()
	f := c.Components("filesystem", true)[0]

	res, _ := f.Invoke("isReadOnly", nil)
	if !res.At(0).Bool() {
		t.Fatal("isReadOnly == false")
	}
	if _, err := f.Invoke("open", value.PackOf("/x", "w")); err == nil {
		t.Error("write open on a read-only volume succeeded")
	}
	if _, err := f.Invoke("makeDirectory", value.PackOf("/d")); err == nil {
		t.Error("makeDirectory on a read-only volume succeeded")
	}
}
