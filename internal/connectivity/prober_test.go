package connectivity

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stories-go/internal/stories"
)

type fakeDialer struct {
	err       error
	addresses []string
}

func (d *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.addresses = append(d.addresses, address)
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://story-api.dicoding.dev/v1", want: "story-api.dicoding.dev:443"},
		{url: "http://localhost/v1", want: "localhost:80"},
		{url: "http://127.0.0.1:8080", want: "127.0.0.1:8080"},
		{url: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := HostPort(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProber_Probe(t *testing.T) {
	tr := NewTracker(true)
	p, err := NewProber(tr, "https://story-api.dicoding.dev/v1", 0, stories.NewNopLogger())
	require.NoError(t, err)

	dialer := &fakeDialer{err: errors.New("connection refused")}
	p.dialer = dialer

	var transitions []bool
	tr.Subscribe(func(t Transition) { transitions = append(transitions, t.Online) })

	assert.False(t, p.Probe(context.Background()))
	assert.False(t, p.Probe(context.Background()))

	dialer.err = nil
	assert.True(t, p.Probe(context.Background()))

	assert.Equal(t, []bool{false, true}, transitions)
	assert.Equal(t, "story-api.dicoding.dev:443", dialer.addresses[0])
}

func TestProber_RunStopsWithContext(t *testing.T) {
	tr := NewTracker(false)
	p, err := NewProber(tr, "http://localhost:1", 0, stories.NewNopLogger())
	require.NoError(t, err)
	p.dialer = &fakeDialer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	// The immediate probe ran before the loop observed cancellation.
	assert.True(t, tr.Online())
}
