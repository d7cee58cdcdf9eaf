package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection оборачивает дуплексное соединение. Пишущая половина
// защищена собственным мьютексом, чтобы несколько задач могли
// последовательно отправлять клиенту кадры. Читает соединение
// единственный владелец — цикл чтения сервера.
type Connection struct {
	id    string
	conn  net.Conn
	codec FrameCodec

	writeMu     sync.Mutex
	sendTimeout time.Duration
}

// NewConnection создаёт обёртку над принятым транспортом.
func NewConnection(conn net.Conn, codec FrameCodec, sendTimeout time.Duration) *Connection {
	if sendTimeout <= 0 {
		sendTimeout = 3 * time.Second
	}
	return &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		codec:       codec,
		sendTimeout: sendTimeout,
	}
}

// ID возвращает идентификатор соединения (для логов).
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr возвращает адрес клиента.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadRequest читает и разбирает один кадр запроса. Блокирует до
// прихода кадра, ошибки или закрытия соединения.
func (c *Connection) ReadRequest() (*Request, []byte, error) {
	frame, err := ReadFrame(c.conn)
	if err != nil {
		return nil, nil, err
	}
	payload, err := c.codec.Decode(frame)
	if err != nil {
		return nil, frame, fmt.Errorf("не удалось декодировать кадр: %w", err)
	}
	req, err := ParseRequest(payload)
	if err != nil {
		return nil, payload, fmt.Errorf("кадр не является запросом: %w", err)
	}
	return req, payload, nil
}

// Send сериализует и отправляет ответ. Отправка ограничена таймаутом
// соединения; превышение возвращает ошибку, по которой вызывающая
// сторона помечает соединение на отключение.
func (c *Connection) Send(resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать ответ: %w", err)
	}
	encoded, err := c.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("не удалось закодировать кадр: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.conn, encoded)
}

// Close закрывает транспорт.
func (c *Connection) Close() error {
	return c.conn.Close()
}
