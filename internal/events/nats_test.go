package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestConnectNATS_PublishesSessionEvents(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("nbfix.repair.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink, err := ConnectNATS(server.ClientURL(), "", zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	sink.Transition(ctx, Transition{SessionID: "s1", From: "pending", To: "analyzing"})
	sink.Report(ctx, Report{SessionID: "s1", NotebookPath: "/nb/a.ipynb", Success: true, Iterations: 1})
	require.NoError(t, sink.Close())

	var got []*nats.Msg
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of 2 events", len(got))
		}
	}

	assert.Equal(t, "nbfix.repair.s1.transition", got[0].Subject)
	assert.Equal(t, "nbfix.repair.s1.report", got[1].Subject)

	var rep Report
	require.NoError(t, json.Unmarshal(got[1].Data, &rep))
	assert.Equal(t, "/nb/a.ipynb", rep.NotebookPath)
	assert.True(t, rep.Success)
}

func TestNATSSink_CloseWithoutConnection(t *testing.T) {
	s := NewNATSSink(&fakePublisher{}, "", nil)
	assert.NoError(t, s.Close())
}
