package types

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentKey(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := Message{Content: "hi", CreatedAt: ts, SenderIdentity: "a@x"}
	b := Message{Id: Int64(7), Content: "hi", CreatedAt: ts, SenderIdentity: "a@x"}
	c := Message{Content: "hi", CreatedAt: ts, SenderIdentity: "b@x"}
	d := Message{Content: "hi", CreatedAt: ts.Add(time.Nanosecond), SenderIdentity: "a@x"}

	assert.Equal(t, a.ContentKey(), b.ContentKey(), "expected the id to be ignored")
	assert.NotEqual(t, a.ContentKey(), c.ContentKey(), "expected sender to be part of the key")
	assert.NotEqual(t, a.ContentKey(), d.ContentKey(), "expected createdAt to be part of the key")
}

func TestPageChronological(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := Page{Messages: []Message{
		{Content: "3", CreatedAt: ts.Add(2 * time.Minute)},
		{Content: "2", CreatedAt: ts.Add(time.Minute)},
		{Content: "1", CreatedAt: ts},
	}}

	got := p.Chronological()
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].Content, got[1].Content, got[2].Content})
	assert.Equal(t, "3", p.Messages[0].Content, "expected the page itself to be left untouched")
}

func TestErrors(t *testing.T) {
	connErr := &ConnectionError{Op: "dial", Err: io.EOF}
	assert.ErrorIs(t, connErr, io.EOF)
	assert.Equal(t, "connection dial: EOF", connErr.Error())

	var fetchErr *FetchError
	wrapped := errors.Join(errors.New("other"), &FetchError{Page: 2, Err: io.ErrUnexpectedEOF})
	assert.ErrorAs(t, wrapped, &fetchErr)
	assert.Equal(t, 2, fetchErr.Page)

	parseErr := &ParseError{Source: "sse", Err: errors.New("bad json")}
	assert.Equal(t, "parse sse: bad json", parseErr.Error())
}
