package network

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestExtractsEnvelope(t *testing.T) {
	raw := []byte(`{"type":"Join","session_token":"tok","world_name":"w1"}`)
	req, err := ParseRequest(raw)
	require.NoError(t, err)

	assert.Equal(t, ReqJoin, req.Type)
	assert.Equal(t, "tok", req.SessionToken)
	assert.Equal(t, "w1", req.WorldName)
}

func TestParseRequestMalformed(t *testing.T) {
	_, err := ParseRequest([]byte(`{не json`))
	assert.Error(t, err, "некорректный JSON должен давать ошибку протокола")
}

func TestResponseConstructors(t *testing.T) {
	assert.Equal(t, RespTypeOk, Ok().Type)
	assert.Equal(t, RespTypeAuthFailure, AuthFailure().Type)
	assert.Equal(t, RespTypePermissionDenied, PermissionDenied().Type)
	assert.Equal(t, RespTypeTimedOut, TimedOut().Type)

	e := Error("world already exists")
	assert.Equal(t, RespTypeError, e.Type)
	assert.Equal(t, "world already exists", e.Message)

	cm := ChatMessage("привет", "alice")
	assert.Equal(t, "привет", cm.Message)
	assert.Equal(t, "alice", cm.Username)

	ticked := Ticked("w1", []ChunkData{{ChunkID: 5, Blocks: []byte{1}}}, nil)
	data, err := json.Marshal(ticked)
	require.NoError(t, err)

	var back Response
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "w1", back.WorldName)
	require.Len(t, back.Chunks, 1)
	assert.Equal(t, uint64(5), back.Chunks[0].ChunkID)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"Ok"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	assert.Error(t, err, "кадр с мусорной длиной должен отклоняться")
}

func TestZstdCodecRoundTrip(t *testing.T) {
	codec, err := NewZstdCodec()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte(`{"type":"Ticked"}`), 100)
	encoded, err := codec.Encode(payload)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(payload), "повторяющийся JSON должен сжиматься")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestNewFrameCodec(t *testing.T) {
	c, err := NewFrameCodec("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = NewFrameCodec("json+zstd")
	require.NoError(t, err)
	assert.Equal(t, "json+zstd", c.Name())

	_, err = NewFrameCodec("msgpack")
	assert.Error(t, err)
}

func TestConnectionSendAndRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverConn := NewConnection(server, JSONCodec{}, time.Second)

	// Клиент пишет запрос
	go func() {
		payload, _ := json.Marshal(&Request{Type: ReqLogin, User: "alice", Password: "pw"})
		WriteFrame(client, payload)
	}()

	req, _, err := serverConn.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, ReqLogin, req.Type)
	assert.Equal(t, "alice", req.User)

	// Сервер шлёт ответ, клиент читает
	done := make(chan *Response, 1)
	go func() {
		frame, err := ReadFrame(client)
		if err != nil {
			done <- nil
			return
		}
		var resp Response
		json.Unmarshal(frame, &resp)
		done <- &resp
	}()

	require.NoError(t, serverConn.Send(AuthSuccess("tok")))
	resp := <-done
	require.NotNil(t, resp)
	assert.Equal(t, RespTypeAuthSuccess, resp.Type)
	assert.Equal(t, "tok", resp.SessionToken)
}

func TestConnectionSendTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Клиент ничего не читает: запись в net.Pipe блокируется и
	// должна завершиться по дедлайну
	serverConn := NewConnection(server, JSONCodec{}, 50*time.Millisecond)
	err := serverConn.Send(Ok())
	assert.Error(t, err, "отправка медленному клиенту должна падать по таймауту")
}
