package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenersDispatchInOrder(t *testing.T) {
	var l Listeners
	var got []string

	l.On("message", 1, func(args ...any) { got = append(got, "a") })
	l.On("message", 2, func(args ...any) { got = append(got, "b") })

	assert.Equal(t, 2, l.Dispatch("message"))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestListenersReplaceById(t *testing.T) {
	var l Listeners
	var got []string

	l.On("message", 1, func(args ...any) { got = append(got, "old") })
	l.On("message", 2, func(args ...any) { got = append(got, "other") })
	l.On("message", 1, func(args ...any) { got = append(got, "new") })

	assert.Equal(t, 2, l.Count("message"))
	l.Dispatch("message")
	assert.Equal(t, []string{"new", "other"}, got)
}

func TestListenersOffDuringDispatch(t *testing.T) {
	var l Listeners
	calls := 0

	l.On("tick", 1, func(args ...any) {
		calls++
		l.Off("tick", 1)
	})
	l.On("tick", 2, func(args ...any) { calls++ })

	l.Dispatch("tick")
	l.Dispatch("tick")

	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, l.Count("tick"))

	l.Off("tick", 2)
	assert.Zero(t, l.Dispatch("tick"))
}

func TestListenersPassArguments(t *testing.T) {
	var l Listeners
	var got []any

	l.On("disconnect", 1, func(args ...any) { got = args })
	l.Dispatch("disconnect", ReasonTransportClose)

	assert.Equal(t, []any{ReasonTransportClose}, got)
}
