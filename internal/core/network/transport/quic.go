package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/simcore/pkg/generic"
)

// ALPN is the application protocol negotiated on QUIC links.
const ALPN = "simcore"

const (
	idleTimeout   = 30 * time.Second
	streamTimeout = 10 * time.Second
	frameHeader   = 4
)

var _ Link = (*quicLink)(nil)

var framePool = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// quicLink carries envelopes over a single bidirectional stream as
// big-endian length-prefixed frames.
type quicLink struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	closed int32

	writeMu sync.Mutex
	header  [frameHeader]byte
}

func newQUICLink(conn *quic.Conn, stream *quic.Stream) *quicLink {
	return &quicLink{id: uuid.NewString(), conn: conn, stream: stream}
}

func (l *quicLink) ID() string         { return l.id }
func (l *quicLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

func (l *quicLink) Send(ctx context.Context, env Envelope) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return ErrClosed
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	frame := framePool.Get()
	defer framePool.Put(frame)
	frame.Grow(frameHeader + len(data))
	var header [frameHeader]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	frame.Write(header[:])
	frame.Write(data)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.stream.SetWriteDeadline(deadline)
	if _, err = l.stream.Write(frame.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Receive blocks until a frame arrives. Only one goroutine may receive.
func (l *quicLink) Receive(ctx context.Context) (Envelope, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return Envelope{}, ErrClosed
	}
	d, _ := ctx.Deadline()
	_ = l.stream.SetReadDeadline(d)

	if _, err := io.ReadFull(l.stream, l.header[:]); err != nil {
		return Envelope{}, l.readError(err)
	}
	size := binary.BigEndian.Uint32(l.header[:])
	if size > MaxFrameSize {
		return Envelope{}, errors.Wrapf(ErrFrameTooLarge, "frame of %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(l.stream, data); err != nil {
		return Envelope{}, l.readError(err)
	}
	return UnmarshalEnvelope(data)
}

func (l *quicLink) readError(err error) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return ErrClosed
	}
	return errors.Wrap(err, "failed to read frame")
}

func (l *quicLink) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	_ = l.stream.Close()
	return l.conn.CloseWithError(0, "closed")
}

// QUICListener accepts QUIC connections whose first stream becomes the link.
type QUICListener struct {
	listener *quic.Listener
}

var _ Listener = (*QUICListener)(nil)

// ListenQUIC listens on a UDP address. A nil tlsConf gets a self-signed
// certificate.
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = SelfSignedTLS(); err != nil {
			return nil, err
		}
	}
	listener, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}
	return &QUICListener{listener: listener}, nil
}

func (l *QUICListener) Accept(ctx context.Context) (Link, error) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "failed to accept connection")
		}

		streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)
		stream, err := conn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			_ = conn.CloseWithError(1, "no stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return newQUICLink(conn, stream), nil
	}
}

func (l *QUICListener) Addr() string { return l.listener.Addr().String() }

func (l *QUICListener) Close() error { return l.listener.Close() }

// DialQUIC connects to a QUIC host. A nil tlsConf accepts any certificate,
// which suits self-signed hosts on a trusted network.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Link, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{ALPN}
	tlsConf.MinVersion = tls.VersionTLS13
	if tlsConf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConf.ServerName = host
		}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	// The host sees the stream once the first frame is written.
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	return newQUICLink(conn, stream), nil
}

// SelfSignedTLS builds a server config with a fresh certificate for
// localhost and the loopback addresses.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{Organization: []string{"simcore"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
