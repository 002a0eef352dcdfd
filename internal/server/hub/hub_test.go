package hub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	got [][]byte
	err error
}

func (f *fakeSender) Send(payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, payload)
	return nil
}

func TestSendToUserFansOut(t *testing.T) {
	h := New()
	a, b := &fakeSender{}, &fakeSender{}
	h.Register("alice", a)
	h.Register("alice", b)

	assert.True(t, h.SendToUser("alice", []byte("hi")))
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestSendToUserOffline(t *testing.T) {
	h := New()
	assert.False(t, h.SendToUser("ghost", []byte("hi")))
}

func TestSendToUserAllFailed(t *testing.T) {
	h := New()
	h.Register("alice", &fakeSender{err: errors.New("broken pipe")})

	assert.False(t, h.SendToUser("alice", []byte("hi")))
}

func TestUnregisterRemovesPresence(t *testing.T) {
	h := New()
	s := &fakeSender{}
	h.Register("alice", s)
	assert.True(t, h.Online("alice"))

	h.Unregister("alice", s)
	assert.False(t, h.Online("alice"))
	assert.False(t, h.SendToUser("alice", []byte("hi")))
}
