package http

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/parleychat/parley-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	srv := startTestServer(t)

	resp, err := srv.ts.Client().Get(srv.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

type wsConn struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func dialWS(t *testing.T, ctx context.Context, srv *testServer, token string) *wsConn {
	t.Helper()

	wsURL := strings.Replace(srv.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	c := &wsConn{t: t, ctx: ctx, conn: conn}
	payload, _ := json.Marshal(proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	if err := wsjson.Write(ctx, conn, proto.Inbound{ID: "hello-1", Type: proto.InboundTypeHello, Data: payload}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	frame := c.next()
	if frame.Type != proto.OutboundTypeAck || frame.ID != "hello-1" {
		t.Fatalf("hello not acked: %+v", frame)
	}
	return c
}

func (c *wsConn) send(id, typ string, data any) {
	c.t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(c.ctx, c.conn, proto.Inbound{ID: id, Type: typ, Data: payload}); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

func (c *wsConn) next() proto.Raw {
	c.t.Helper()
	var frame proto.Raw
	if err := wsjson.Read(c.ctx, c.conn, &frame); err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	return frame
}

// nextEvent skips frames until an event with the given name arrives.
func (c *wsConn) nextEvent(name string) proto.Raw {
	c.t.Helper()
	for {
		frame := c.next()
		if frame.Type == proto.OutboundTypeEvent && frame.Event == name {
			return frame
		}
	}
}

// nextAck skips events until the ack (or error) for the given request id.
func (c *wsConn) nextAck(id string) proto.Raw {
	c.t.Helper()
	for {
		frame := c.next()
		if frame.ID == id {
			return frame
		}
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	srv := startTestServer(t)
	aliceToken := registerUser(t, srv, "alice")
	bobToken := registerUser(t, srv, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := dialWS(t, ctx, srv, aliceToken)
	bob := dialWS(t, ctx, srv, bobToken)

	// join
	alice.send("j1", proto.InboundTypeJoin, proto.JoinData{Room: "General"})
	ack := alice.nextAck("j1")
	if ack.Type != proto.OutboundTypeAck {
		t.Fatalf("join not acked: %+v", ack)
	}
	var joinAck proto.JoinAck
	if err := json.Unmarshal(ack.Data, &joinAck); err != nil {
		t.Fatalf("unmarshal join ack: %v", err)
	}
	if joinAck.Room != "general" || len(joinAck.Users) != 1 {
		t.Fatalf("unexpected join ack: %+v", joinAck)
	}

	bob.send("j1", proto.InboundTypeJoin, proto.JoinData{Room: "general"})
	bob.nextAck("j1")

	// alice learns of bob through presence; her own join's presence event may
	// still be in flight, so wait for the two-user set
	var presence proto.EventPresence
	for len(presence.Users) != 2 {
		frame := alice.nextEvent(proto.EventPresenceChanged)
		if err := json.Unmarshal(frame.Data, &presence); err != nil {
			t.Fatalf("unmarshal presence: %v", err)
		}
	}

	// message delivery with ack
	alice.send("m1", proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "hi there"})
	ack = alice.nextAck("m1")
	if ack.Type != proto.OutboundTypeAck {
		t.Fatalf("msg not acked: %+v", ack)
	}
	var msgAck proto.MsgAck
	if err := json.Unmarshal(ack.Data, &msgAck); err != nil {
		t.Fatalf("unmarshal msg ack: %v", err)
	}

	frame := bob.nextEvent(proto.EventMessageCreated)
	var event proto.EventMessage
	if err := json.Unmarshal(frame.Data, &event); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if event.User != "alice" || event.Text != "hi there" || event.Room != "general" || event.ID != msgAck.MessageID {
		t.Fatalf("unexpected event payload: %+v", event)
	}

	// read receipt
	bob.send("r1", proto.InboundTypeMarkRead, proto.MarkReadData{MessageID: event.ID})
	bob.nextAck("r1")
	frame = alice.nextEvent(proto.EventReadReceiptUpdate)
	var receipt proto.EventReadReceipt
	if err := json.Unmarshal(frame.Data, &receipt); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if receipt.Reader != "bob" || receipt.MessageID != event.ID {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// deletion for everyone
	alice.send("d1", proto.InboundTypeDelete, proto.DeleteData{MessageID: event.ID, Mode: "everyone"})
	ack = alice.nextAck("d1")
	if ack.Type != proto.OutboundTypeAck {
		t.Fatalf("delete not acked: %+v", ack)
	}
	frame = bob.nextEvent(proto.EventMessageDeleted)
	var deleted proto.EventDeleted
	if err := json.Unmarshal(frame.Data, &deleted); err != nil {
		t.Fatalf("unmarshal deleted: %v", err)
	}
	if deleted.MessageID != event.ID {
		t.Fatalf("unexpected deletion target: %+v", deleted)
	}
}

func TestWebSocketRejectsBadHello(t *testing.T) {
	srv := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	payload, _ := json.Marshal(proto.HelloData{Token: "not-a-jwt"})
	if err := wsjson.Write(ctx, conn, proto.Inbound{ID: "h1", Type: proto.InboundTypeHello, Data: payload}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var frame proto.Raw
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized error frame, got %+v", frame)
	}
}

func TestWebSocketErrorsCarryCodes(t *testing.T) {
	srv := startTestServer(t)
	token := registerUser(t, srv, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialWS(t, ctx, srv, token)

	// sending before joining
	alice.send("m1", proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "hello"})
	frame := alice.nextAck("m1")
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "not_in_room" {
		t.Fatalf("expected not_in_room error, got %+v", frame)
	}

	// deleting an unknown message reports the target id on the error frame
	alice.send("d1", proto.InboundTypeDelete, proto.DeleteData{MessageID: 424242, Mode: "everyone"})
	frame = alice.nextAck("d1")
	if frame.Type != proto.OutboundTypeError || frame.Error == nil {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	if frame.Error.Code != "message_not_found" || frame.Error.MessageID != 424242 {
		t.Fatalf("unexpected delete error: %+v", frame.Error)
	}
}
