package forwardprotocol

import (
	"bufio"
	"net"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v4"
)

// ClientAuth carries client-side secrets for the forward protocol handshake
type ClientAuth struct {
	SharedKey string
	Username  string
	Password  string
}

// DoClientHandshake performs client-side handshake on the given forward protocol connection.
//
// Returns the keepalive flag advertised by the server. A *HandshakeError marks
// authentication failures and protocol violations; any other error is a network error.
func DoClientHandshake(conn net.Conn, auth ClientAuth, timeout time.Duration) (bool, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	decoder := msgpack.NewDecoder(conn)
	bwriter := bufio.NewWriterSize(conn, 1024)
	encoder := msgpack.NewEncoder(bwriter)

	// read HELO
	helo := Helo{}
	if err := decoder.Decode(&helo); err != nil {
		return false, err
	}
	if helo.Type != "HELO" {
		return false, &HandshakeError{Reason: "server sent garbage HELO: " + helo.Type}
	}

	// send PING
	salt := NewNonceHex()
	hostname, err := os.Hostname()
	if err != nil {
		return false, err
	}
	username := ""
	password := ""
	if helo.Options.Auth != "" {
		username = auth.Username
		password = PasswordHexdigest(helo.Options.Auth, auth.Username, auth.Password)
	}
	ping := Ping{
		Type:               "PING",
		ClientHostname:     hostname,
		SharedKeySalt:      salt,
		SharedKeyHexdigest: SharedKeyHexdigest(salt, hostname, helo.Options.Nonce, auth.SharedKey),
		Username:           username,
		Password:           password,
	}
	if err := encoder.Encode(&ping); err != nil {
		return false, err
	}
	if err := bwriter.Flush(); err != nil {
		return false, err
	}

	// read PONG
	pong := Pong{}
	if err := decoder.Decode(&pong); err != nil {
		return false, err
	}
	if pong.Type != "PONG" {
		return false, &HandshakeError{Reason: "server returned garbage PONG: " + pong.Type}
	}
	serverDigest := SharedKeyHexdigest(salt, pong.ServerHostname, helo.Options.Nonce, auth.SharedKey)
	if !digestsEqual(serverDigest, pong.SharedKeyHexdigest) {
		return false, &HandshakeError{Reason: "server returned invalid digest, check shared key"}
	}
	if !pong.AuthResult {
		return false, &HandshakeError{Reason: pong.Reason}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return false, err
	}
	return helo.Options.KeepAlive, nil
}
