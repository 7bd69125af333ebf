package secureclient

import "time"

// maxRecordPayload is the largest plaintext a single TLS record carries.
const maxRecordPayload = 16 << 10

// transmit writes the whole request, one record-sized chunk per write, with
// the write deadline re-armed for each chunk. tls.Conn.Write emits complete
// records and keeps nothing buffered, so a returned write is a flushed write.
func (s *session) transmit(request []byte) (int, error) {
	written := 0
	for written < len(request) {
		end := min(written+maxRecordPayload, len(request))

		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return written, err
		}
		n, err := s.conn.Write(request[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, s.conn.SetWriteDeadline(time.Time{})
}
