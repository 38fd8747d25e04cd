// Package netsrv implements the network loop of the appliance: a binary TCP
// protocol used by the batch flashing client, and an HTTP interface for
// status pages and single-image uploads.
//
// The [Server] talks to the device loop only through the usb and web task
// queues and, for HTTP uploads, the byte stream. Replies from the device loop
// carry the session number of the request that caused them, which routes
// them to the TCP client or to the running upload.
//
// # TCP protocol
//
// Every message starts with a one byte identifier. Integers are little
// endian.
//
//	client                             server
//	0x00 REQUEST_STATUS                0x80 UPDATE_STATUS  u16 n, n codes
//	0x01 REQUEST_STDOUT                0x81 UPDATE_STDOUT  u16 n, n bytes
//	0x02 SELECT_DEVICE  i8 port        0x82 FLASH_START
//	0x03 START_FLASH                   0x83 FLASH_PART_RECEIVED
//	0x04 WRITE_FLASH_PART u16 n, data  0x84 FLASH_PART_WRITTEN
//	0x05 END_FLASH                     0x85 FLASH_END
//	0x06 REBOOT_FOR_FLASH              0x86 FLASH_ERROR
//	0x07 REBOOT_SOFT                   0x87 DECODE_FAILURE
//
// A negative SELECT_DEVICE port clears the status of every port. Each
// WRITE_FLASH_PART is acknowledged twice: once when it is copied into one of
// the [ChunkBuffers] receive buffers and once when the device loop has
// written it. When every buffer is lent to the device loop the server stops
// reading from the connection until one comes back.
package netsrv
