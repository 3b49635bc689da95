package emu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"covm/value"
)

// maxReadChunk bounds a single guest read.
const maxReadChunk = 2 << 20

// Filesystem is a managed directory component. Regular filesystems
// persist under <env>/<address>; the tmpfs lives at <env>/tmp and is
// cleared at boot.
type Filesystem struct {
	base
	host *Host

	root     string
	label    string
	tmpfs    bool
	readonly bool

	handles map[*fsHandle]struct{}
}

type fsHandle struct {
	f     *os.File
	write bool
}

func newFilesystem(h *Host) *Filesystem {
	f := &Filesystem{
		base:    newBase("filesystem"),
		host:    h,
		handles: make(map[*fsHandle]struct{}),
	}
	f.info = DeviceInfo{
		Class:       "volume",
		Description: "Filesystem",
		Vendor:      "covm",
		Product:     "DirDrive",
	}
	f.add("open", "open(path:string[, mode:string]):handle -- open a file", f.apiOpen)
	f.add("read", "read(handle, count:number):string or nil -- read from an open file", f.apiRead)
	f.add("write", "write(handle, data:string):boolean -- write to an open file", f.apiWrite)
	f.add("seek", "seek(handle, whence:string, offset:number):number -- reposition an open file", f.apiSeek)
	f.add("close", "close(handle) -- close an open file", f.apiClose)
	f.add("exists", "exists(path:string):boolean -- whether a path exists", f.apiExists)
	f.add("isDirectory", "isDirectory(path:string):boolean -- whether a path is a directory", f.apiIsDirectory)
	f.add("size", "size(path:string):number -- file size in bytes", f.apiSize)
	f.add("lastModified", "lastModified(path:string):number -- modification time in ms", f.apiLastModified)
	f.add("list", "list(path:string):table -- directory entries, directories with a trailing slash", f.apiList)
	f.add("makeDirectory", "makeDirectory(path:string):boolean -- create a directory tree", f.apiMakeDirectory)
	f.add("remove", "remove(path:string):boolean -- delete a path recursively", f.apiRemove)
	f.add("rename", "rename(from:string, to:string):boolean -- move a path", f.apiRename)
	f.add("spaceUsed", "spaceUsed():number -- bytes stored", f.apiSpaceUsed)
	f.add("spaceTotal", "spaceTotal():number -- volume capacity in bytes", f.apiSpaceTotal)
	f.add("getLabel", "getLabel():string -- the volume label", f.apiGetLabel)
	f.add("setLabel", "setLabel(value:string):string -- set the volume label", f.apiSetLabel)
	f.add("isReadOnly", "isReadOnly():boolean -- whether the volume rejects writes", f.apiIsReadOnly)
	return f
}

func (f *Filesystem) Initialize(c *Client, cfg value.Value) error {
	if err := f.initialize(c, cfg); err != nil {
		return err
	}
	t := cfg.Table()
	if v := t.GetString("tmpfs"); v.Kind() == value.KindBool {
		f.tmpfs = v.Bool()
	}
	if v := t.GetString("readonly"); v.Kind() == value.KindBool {
		f.readonly = v.Bool()
	}
	f.label = ""
	if v := t.GetString("label"); v.Kind() == value.KindString {
		f.label = v.Str()
	}
	if f.tmpfs {
		f.root = filepath.Join(c.EnvPath(), "tmp")
		if f.label == "" {
			f.label = "tmpfs"
		}
		// ephemeral contents, cleared at boot
		if err := os.RemoveAll(f.root); err != nil {
			return err
		}
	} else {
		f.root = filepath.Join(c.EnvPath(), f.address)
	}
	return os.MkdirAll(f.root, 0o755)
}

// PostInit binds the tmpfs address into the computer.
func (f *Filesystem) PostInit() error {
	if f.tmpfs {
		if cmp := f.client.Computer(); cmp != nil {
			cmp.SetTmpAddress(f.address)
		}
	}
	return nil
}

func (f *Filesystem) Close() {
	for h := range f.handles {
		h.f.Close()
	}
	f.handles = nil
}

// resolve confines a guest path to the component root.
func (f *Filesystem) resolve(p string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if strings.HasPrefix(clean, "/..") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filesystem) handleArg(args value.Pack, index int) (*fsHandle, error) {
	v := args.At(index)
	if v.Kind() != value.KindHandle {
		return nil, &value.ArgError{Index: index + 1, Want: value.KindHandle, Got: v.Kind()}
	}
	h, ok := v.Handle().(*fsHandle)
	if !ok {
		return nil, errors.New("bad file descriptor")
	}
	if _, open := f.handles[h]; !open {
		return nil, errors.New("bad file descriptor")
	}
	return h, nil
}

func (f *Filesystem) apiOpen(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	mode, err := value.OptArg[string](args, 1, "r")
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}

	var flags int
	write := false
	switch strings.TrimSuffix(mode, "b") {
	case "r":
		flags = os.O_RDONLY
	case "w":
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		write = true
	case "a":
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		write = true
	default:
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
	if write && f.readonly {
		return nil, errors.New("filesystem is read only")
	}

	file, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	h := &fsHandle{f: file, write: write}
	f.handles[h] = struct{}{}
	return value.PackOf(value.Handle(h)), nil
}

func (f *Filesystem) apiRead(args value.Pack) (value.Pack, error) {
	h, err := f.handleArg(args, 0)
	if err != nil {
		return nil, err
	}
	count, err := value.OptArg[int64](args, 1, maxReadChunk)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > maxReadChunk {
		count = maxReadChunk
	}
	buf := make([]byte, count)
	n, rerr := h.f.Read(buf)
	if n > 0 {
		return value.PackOf(string(buf[:n])), nil
	}
	if rerr == io.EOF {
		return value.Pack{value.None}, nil
	}
	if rerr != nil {
		return nil, rerr
	}
	return value.PackOf(""), nil
}

func (f *Filesystem) apiWrite(args value.Pack) (value.Pack, error) {
	h, err := f.handleArg(args, 0)
	if err != nil {
		return nil, err
	}
	data, err := value.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}
	if !h.write {
		return nil, errors.New("file is not open for writing")
	}
	if _, err := h.f.WriteString(data); err != nil {
		return nil, err
	}
	return value.PackOf(true), nil
}

func (f *Filesystem) apiSeek(args value.Pack) (value.Pack, error) {
	h, err := f.handleArg(args, 0)
	if err != nil {
		return nil, err
	}
	whence, err := value.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}
	offset, err := value.OptArg[int64](args, 2, 0)
	if err != nil {
		return nil, err
	}
	var w int
	switch whence {
	case "set":
		w = io.SeekStart
	case "cur":
		w = io.SeekCurrent
	case "end":
		w = io.SeekEnd
	default:
		return nil, fmt.Errorf("invalid whence %q", whence)
	}
	pos, err := h.f.Seek(offset, w)
	if err != nil {
		return nil, err
	}
	return value.PackOf(pos), nil
}

func (f *Filesystem) apiClose(args value.Pack) (value.Pack, error) {
	h, err := f.handleArg(args, 0)
	if err != nil {
		return nil, err
	}
	delete(f.handles, h)
	h.f.Close()
	return value.PackOf(true), nil
}

func (f *Filesystem) apiExists(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	_, serr := os.Stat(full)
	return value.PackOf(serr == nil), nil
}

func (f *Filesystem) apiIsDirectory(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, serr := os.Stat(full)
	return value.PackOf(serr == nil && fi.IsDir()), nil
}

func (f *Filesystem) apiSize(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, serr := os.Stat(full)
	if serr != nil {
		return value.PackOf(0), nil
	}
	return value.PackOf(fi.Size()), nil
}

func (f *Filesystem) apiLastModified(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, serr := os.Stat(full)
	if serr != nil {
		return value.PackOf(0), nil
	}
	return value.PackOf(fi.ModTime().UnixMilli()), nil
}

func (f *Filesystem) apiList(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, rerr := os.ReadDir(full)
	if rerr != nil {
		return nil, fmt.Errorf("no such directory: %s", p)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	t := value.NewTable()
	for _, name := range names {
		t.Table().Append(value.String(name))
	}
	return value.Pack{t}, nil
}

func (f *Filesystem) apiMakeDirectory(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if f.readonly {
		return nil, errors.New("filesystem is read only")
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	if merr := os.MkdirAll(full, 0o755); merr != nil {
		return nil, merr
	}
	return value.PackOf(true), nil
}

func (f *Filesystem) apiRemove(args value.Pack) (value.Pack, error) {
	p, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if f.readonly {
		return nil, errors.New("filesystem is read only")
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	if full == f.root {
		return nil, errors.New("cannot remove the volume root")
	}
	if rerr := os.RemoveAll(full); rerr != nil {
		return nil, rerr
	}
	return value.PackOf(true), nil
}

func (f *Filesystem) apiRename(args value.Pack) (value.Pack, error) {
	from, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	to, err := value.Arg[string](args, 1)
	if err != nil {
		return nil, err
	}
	if f.readonly {
		return nil, errors.New("filesystem is read only")
	}
	fullFrom, err := f.resolve(from)
	if err != nil {
		return nil, err
	}
	fullTo, err := f.resolve(to)
	if err != nil {
		return nil, err
	}
	if rerr := os.Rename(fullFrom, fullTo); rerr != nil {
		return nil, rerr
	}
	return value.PackOf(true), nil
}

func (f *Filesystem) apiSpaceUsed(value.Pack) (value.Pack, error) {
	var used int64
	filepath.WalkDir(f.root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			used += fi.Size()
		}
		return nil
	})
	return value.PackOf(used), nil
}

func (f *Filesystem) apiSpaceTotal(value.Pack) (value.Pack, error) {
	return value.PackOf(int64(512 << 20)), nil
}

func (f *Filesystem) apiGetLabel(value.Pack) (value.Pack, error) {
	return value.PackOf(f.label), nil
}

func (f *Filesystem) apiSetLabel(args value.Pack) (value.Pack, error) {
	label, err := value.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	if f.tmpfs {
		return nil, errors.New("tmpfs labels are fixed")
	}
	f.label = label
	return value.PackOf(f.label), nil
}

func (f *Filesystem) apiIsReadOnly(value.Pack) (value.Pack, error) {
	return value.PackOf(f.readonly), nil
}
