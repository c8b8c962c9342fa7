//----------------------------------------------------------------------
// This file is part of wifiprobe.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifiprobe is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifiprobe is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifiprobe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
	errExists = errors.New("file exists")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

//----------------------------------------------------------------------

// Namespace is a synthetic (read-only) file system. It must be fully
// constructed before it is served.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // owner of all entries
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextId      uint64            // next identifier (Qid.Path) for an entry
}

// NewNamespace creates a new filesystem (with root directory) for the
// given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := new(Namespace)
	ns.user, ns.group = user, group
	ns.dict = make(map[uint64]*Entry)
	e := ns.newEntry("/", 0555, nil)
	ns.dict[e.ref.Path] = e
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextId,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.nextId++
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// Get entry with given path
func (ns *Namespace) Get(path string) (*Entry, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(path[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		e, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = e
	}
	return curr, nil
}

// AddChild to parent entry. Parent must be a directory.
func (ns *Namespace) AddChild(parent, child *Entry) error {
	if parent.children == nil {
		return errNoDir
	}
	if _, ok := parent.children[child.ref.Name]; ok {
		return errExists
	}
	parent.children[child.ref.Name] = child
	ns.dict[child.ref.Path] = child
	return nil
}

// NewFile adds a file at the given absolute path.
func (ns *Namespace) NewFile(p string, perm uint32, impl File) error {
	return ns.add(p, perm, impl)
}

// NewDir adds a directory at the given absolute path.
func (ns *Namespace) NewDir(p string, perm uint32) error {
	return ns.add(p, perm, nil)
}

// add entry to its parent directory
func (ns *Namespace) add(p string, perm uint32, impl File) error {
	dir, name := path.Split(path.Clean(p))
	if len(name) == 0 {
		return errExists
	}
	parent, err := ns.Get(dir)
	if err != nil {
		return err
	}
	return ns.AddChild(parent, ns.newEntry(name, perm, impl))
}

// Serve the 9p protocol on connections accepted by the listener
// until ctx is done. Open sessions are closed on return.
func (ns *Namespace) Serve(ctx context.Context, lst net.Listener, logger *slog.Logger) error {
	logger = orDiscard(logger)
	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	stop := context.AfterFunc(ctx, func() { lst.Close() })
	defer func() {
		stop()
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
		wg.Wait()
	}()
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Error("accept failed", slog.String("err", err.Error()))
			if err = sleep(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}
		logger.Debug("status client connected", slog.String("remote", c.RemoteAddr().String()))
		mu.Lock()
		conns[c] = struct{}{}
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
				c.Close()
				logger.Debug("status client done", slog.String("remote", c.RemoteAddr().String()))
			}()
			sc := &sessionConn{Conn: c}
			srv := ninep.NewSrv(func() ninep.FS { return ns })
			srv.ServeIO(sc, sc)
		}()
	}
}

// sessionConn is the transport of a single 9p session. The ninep
// server loops exit the process on any I/O error, so a failed read
// ends the session goroutine instead and write errors are dropped.
type sessionConn struct {
	net.Conn
}

func (c *sessionConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil && n == 0 {
		// runs the deferred cleanup of the session goroutine
		runtime.Goexit()
	}
	return n, nil
}

func (c *sessionConn) Write(b []byte) (int, error) {
	c.Conn.Write(b)
	return len(b), nil
}

//----------------------------------------------------------------------
// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.dict[0]; ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok || e.children == nil {
		return nil
	}
	if next == ".." {
		if p := ns.parent(e); p != nil {
			return &p.ref.Qid
		}
		return &e.ref.Qid
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// find the parent directory of an entry (root is its own parent)
func (ns *Namespace) parent(e *Entry) *Entry {
	for _, d := range ns.dict {
		if c, ok := d.children[e.ref.Name]; ok && c == e {
			return d
		}
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		var kids []ninep.Dir
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		// stable order across reads at different offsets
		slices.SortFunc(kids, func(a, b ninep.Dir) int {
			return strings.Compare(a.Name, b.Name)
		})
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
