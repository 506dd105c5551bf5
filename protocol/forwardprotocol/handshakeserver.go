package forwardprotocol

import (
	"bufio"
	"net"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v4"
)

// AuthCallback lets a server override the authentication result, e.g. for failure injection in tests
//
// Returns (success?, reason)
type AuthCallback func(hostname, username string) (bool, string)

// ServerAuth carries server-side secrets and policies for the handshake
type ServerAuth struct {
	SharedKey string
	Hostname  string            // hostname sent in PONG; os.Hostname() when empty
	Authorize bool              // require username and password from clients
	Users     map[string]string // username to password, checked when Authorize is set
	KeepAlive bool              // advertised to clients in HELO
}

// DoServerHandshake performs server-side handshake on the given forward protocol connection.
//
// Returns nil when the client is authenticated; *HandshakeError marks rejected
// clients and protocol violations, any other error is a network error.
func DoServerHandshake(conn net.Conn, auth ServerAuth, timeout time.Duration, callback AuthCallback) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	decoder := msgpack.NewDecoder(conn)
	bwriter := bufio.NewWriterSize(conn, 1024)
	encoder := msgpack.NewEncoder(bwriter)

	hostname := auth.Hostname
	if hostname == "" {
		osHostname, err := os.Hostname()
		if err != nil {
			return err
		}
		hostname = osHostname
	}

	// send HELO
	nonce := NewNonceHex()
	authSalt := ""
	if auth.Authorize {
		authSalt = NewNonceHex()
	}
	helo := Helo{
		Type: "HELO",
		Options: HeloOptions{
			Nonce:     nonce,
			Auth:      authSalt,
			KeepAlive: auth.KeepAlive,
		},
	}
	if err := encoder.Encode(&helo); err != nil {
		return err
	}
	if err := bwriter.Flush(); err != nil {
		return err
	}

	// read PING
	ping := Ping{}
	if err := decoder.Decode(&ping); err != nil {
		return err
	}
	if ping.Type != "PING" {
		return &HandshakeError{Reason: "client sent garbage PING: " + ping.Type}
	}
	result, reason := auth.verifyPing(ping, nonce, authSalt)
	if result && callback != nil {
		result, reason = callback(ping.ClientHostname, ping.Username)
	}

	// send PONG
	pong := Pong{
		Type:               "PONG",
		AuthResult:         result,
		Reason:             reason,
		ServerHostname:     hostname,
		SharedKeyHexdigest: SharedKeyHexdigest(ping.SharedKeySalt, hostname, nonce, auth.SharedKey),
	}
	if err := encoder.Encode(&pong); err != nil {
		return err
	}
	if err := bwriter.Flush(); err != nil {
		return err
	}
	if !result {
		return &HandshakeError{Reason: reason}
	}

	return conn.SetDeadline(time.Time{})
}

func (auth ServerAuth) verifyPing(ping Ping, nonce, authSalt string) (bool, string) {
	expected := SharedKeyHexdigest(ping.SharedKeySalt, ping.ClientHostname, nonce, auth.SharedKey)
	if !digestsEqual(expected, ping.SharedKeyHexdigest) {
		return false, "shared key mismatch"
	}
	if auth.Authorize {
		password, exists := auth.Users[ping.Username]
		if !exists || !digestsEqual(PasswordHexdigest(authSalt, ping.Username, password), ping.Password) {
			return false, "username/password mismatch"
		}
	}
	return true, ""
}
