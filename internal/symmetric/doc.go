// Package symmetric implements the session cipher used to protect individual
// request fields once a handshake has completed.
//
// The server hands out one AES key and one initialisation vector per session.
// Every field is encrypted with AES in CBC mode using PKCS#7 padding and that
// same IV; the IV is never rotated between calls, because the server decrypts
// each field independently with the IV it issued at handshake time. As a
// consequence encryption is deterministic within a session.
package symmetric
