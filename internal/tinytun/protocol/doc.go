/*
Package protocol - the per-connection tunnel engine

1. Message - every message on the wire is `uint16 length (little-endian) | length bytes`

2. Conn - handshake, decode state machine, frame encode, output queue, keepalive

3. MACTable - addresses recently seen behind a connection

A connection never blocks and never starts goroutines: its owner polls
WantRead / WantWrite, calls ServiceRead / ServiceWrite when the transport is
ready, and drops it once NeedClose reports true.

Message flow:
                       Side A                                                Side B
                +----------------+                                     +----------------+
   Send(frame)  |   seal frame   |     16-byte handshake, then         |  decode state  |
  ------------->| output queue   |---- frame messages / keepalives --->|    machine     |---> FrameHandler
                |  ServiceWrite  |                                     |  ServiceRead   |
                +----------------+                                     +----------------+
                +----------------+                                     +----------------+
  FrameHandler  |  decode state  |                                     |   seal frame   |  Send(frame)
  <-------------|    machine     |<------------------------------------|  output queue  |<------------
                |  ServiceRead   |                                     |  ServiceWrite  |
                +----------------+                                     +----------------+

Frame message, after decrypting every 16-byte block with the peer's session key:

	uint16 inner length N | N bytes of Ethernet frame | uint16 CRC | pad to 16
*/
package protocol
