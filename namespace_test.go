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
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"git.sr.ht/~moody/ninep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// build a test namespace
func newNamespace() (ns *Namespace, err error) {
	ns = NewNamespace("sys", "sys")
	if err = ns.NewFile("/readme", 0444, NewTextFile("Just a test...\n")); err != nil {
		return
	}
	if err = ns.NewDir("/sensors", 0555); err != nil {
		return
	}
	err = ns.NewFile("/sensors/temp", 0444, NewFuncFile(
		func() ([]byte, error) {
			s := fmt.Sprintf("%f\n", rand.Float32())
			return []byte(s), nil
		},
	))
	return
}

func TestNamespaceNew(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	root := ns.Root()
	require.NotNil(t, root)
	assert.True(t, root.IsDir())
	assert.EqualValues(t, 0, root.ref.Path)

	e, err := ns.Get("/readme")
	require.NoError(t, err)
	assert.False(t, e.IsDir())
	data, err := e.file.Read()
	require.NoError(t, err)
	assert.Equal(t, "Just a test...\n", string(data))

	e, err = ns.Get("/sensors/temp")
	require.NoError(t, err)
	assert.Equal(t, "temp", e.Name())
	assert.EqualValues(t, ninep.QTFile, e.ref.Qid.Type)
}

func TestNamespaceGet(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	_, err = ns.Get("readme")
	assert.ErrorIs(t, err, errNoAbs)
	_, err = ns.Get("")
	assert.ErrorIs(t, err, errNoAbs)
	_, err = ns.Get("/missing")
	assert.ErrorIs(t, err, errNoFile)
	_, err = ns.Get("/readme/child")
	assert.ErrorIs(t, err, errNoDir)

	e, err := ns.Get("//sensors/")
	require.NoError(t, err)
	assert.True(t, e.IsDir())
}

func TestNamespaceAdd(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	assert.ErrorIs(t, ns.NewFile("/readme", 0444, NewTextFile("")), errExists)
	assert.ErrorIs(t, ns.NewFile("/readme/x", 0444, NewTextFile("")), errNoDir)
	assert.ErrorIs(t, ns.NewDir("/a/b", 0555), errNoFile)

	// identifiers are unique per namespace
	ids := make(map[uint64]bool)
	for path, e := range ns.dict {
		assert.Equal(t, path, e.ref.Path)
		assert.False(t, ids[path])
		ids[path] = true
	}
	assert.Len(t, ids, 4)
}

func TestNamespaceWalk(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	root := ns.Root()
	q := ns.Walk(&root.ref.Qid, "sensors")
	require.NotNil(t, q)
	dir, _ := ns.Get("/sensors")
	assert.Equal(t, dir.ref.Path, q.Path)

	q = ns.Walk(q, "temp")
	require.NotNil(t, q)
	assert.Nil(t, ns.Walk(q, "deeper"))
	assert.Nil(t, ns.Walk(&root.ref.Qid, "missing"))

	up := ns.Walk(&dir.ref.Qid, "..")
	require.NotNil(t, up)
	assert.EqualValues(t, 0, up.Path)
}

//----------------------------------------------------------------------
// minimal 9P2000 client

const (
	msgTversion = 100 + 2*iota
	msgTauth
	msgTattach
	msgTerror
	msgTflush
	msgTwalk
	msgTopen
	msgTcreate
	msgTread
)

const noTag = 0xffff

type client9p struct {
	t   *testing.T
	c   net.Conn
	tag uint16
}

func dial9p(t *testing.T, addr string) *client9p {
	c, err := net.Dial("tcp4", addr)
	require.NoError(t, err)
	c.SetDeadline(time.Now().Add(5 * time.Second))
	cl := &client9p{t: t, c: c}
	typ, body := cl.rpc(msgTversion, u32(8192), str(ninep.Ninep2000))
	require.EqualValues(t, msgTversion+1, typ)
	require.Equal(t, ninep.Ninep2000, string(body[6:]))
	return cl
}

func u16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func le64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }
func str(s string) []byte { return append(u16(uint16(len(s))), s...) }

// send a request and return type and body of the reply.
func (cl *client9p) rpc(typ byte, parts ...[]byte) (byte, []byte) {
	tag := cl.tag
	if typ == msgTversion {
		tag = noTag
	} else {
		cl.tag++
	}
	var body []byte
	for _, p := range parts {
		body = append(body, p...)
	}
	msg := append(u32(uint32(7+len(body))), typ)
	msg = append(msg, u16(tag)...)
	_, err := cl.c.Write(append(msg, body...))
	require.NoError(cl.t, err)

	hdr := make([]byte, 7)
	_, err = io.ReadFull(cl.c, hdr)
	require.NoError(cl.t, err)
	size := binary.LittleEndian.Uint32(hdr)
	require.Equal(cl.t, tag, binary.LittleEndian.Uint16(hdr[5:]))
	rsp := make([]byte, size-7)
	_, err = io.ReadFull(cl.c, rsp)
	require.NoError(cl.t, err)
	return hdr[4], rsp
}

func serveNamespace(t *testing.T, ns *Namespace) (string, func() error) {
	lst, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ns.Serve(ctx, lst, nil)
	}()
	return lst.Addr().String(), func() error {
		cancel()
		return <-done
	}
}

func TestNamespaceServe(t *testing.T) {
	defer goleak.VerifyNone(t)
	ns := NewNamespace("sys", "sys")
	require.NoError(t, ns.NewDir("/wifi", 0555))
	require.NoError(t, ns.NewFile("/wifi/state", 0444, NewLineFile(func() string { return "CONNECTED" })))
	addr, stop := serveNamespace(t, ns)

	cl := dial9p(t, addr)
	typ, body := cl.rpc(msgTattach, u32(1), u32(0xffffffff), str("glenda"), str(""))
	require.EqualValues(t, msgTattach+1, typ)
	assert.EqualValues(t, ninep.QTDir, body[0])

	typ, body = cl.rpc(msgTwalk, u32(1), u32(2), u16(2), str("wifi"), str("state"))
	require.EqualValues(t, msgTwalk+1, typ)
	require.EqualValues(t, 2, binary.LittleEndian.Uint16(body))
	assert.EqualValues(t, ninep.QTFile, body[2+13])

	typ, _ = cl.rpc(msgTopen, u32(2), []byte{0})
	require.EqualValues(t, msgTopen+1, typ)

	typ, body = cl.rpc(msgTread, u32(2), le64(0), u32(512))
	require.EqualValues(t, msgTread+1, typ)
	n := binary.LittleEndian.Uint32(body)
	assert.Equal(t, "CONNECTED\n", string(body[4:4+n]))

	typ, _ = cl.rpc(msgTwalk, u32(1), u32(3), u16(1), str("missing"))
	assert.EqualValues(t, msgTerror+1, typ)

	// a client hanging up ends only its session
	cl.c.Close()
	cl = dial9p(t, addr)
	defer cl.c.Close()
	typ, _ = cl.rpc(msgTattach, u32(1), u32(0xffffffff), str("glenda"), str(""))
	require.EqualValues(t, msgTattach+1, typ)

	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestNamespaceServeClosesSessions(t *testing.T) {
	defer goleak.VerifyNone(t)
	ns := NewNamespace("sys", "sys")
	addr, stop := serveNamespace(t, ns)

	cl := dial9p(t, addr)
	defer cl.c.Close()
	assert.ErrorIs(t, stop(), context.Canceled)

	_, err := cl.c.Read(make([]byte, 1))
	assert.Error(t, err)
}
