package edge

import (
	"encoding/binary"
	"strings"
	"time"
)

// The read-aloud service frames every message with HTTP-style headers. Text
// messages carry headers and body split by a blank line; binary messages
// prefix the headers with a big-endian 16-bit header length.

func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

func speechConfigMessage() []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"` + outputFormat + `"}}}}`)
	return []byte(b.String())
}

func ssmlMessage(requestID, ssml string) []byte {
	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func buildSSML(text, voice, lang, rate, pitch, volume string) string {
	var b strings.Builder
	b.WriteString(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='` + lang + `'>`)
	b.WriteString(`<voice name='` + voice + `'>`)
	b.WriteString(`<prosody pitch='` + pitch + `' rate='` + rate + `' volume='` + volume + `'>`)
	b.WriteString(xmlEscaper.Replace(text))
	b.WriteString(`</prosody></voice></speak>`)
	return b.String()
}

// messagePath extracts the Path header from a text message.
func messagePath(data []byte) string {
	head := string(data)
	if i := strings.Index(head, "\r\n\r\n"); i >= 0 {
		head = head[:i]
	}
	for _, line := range strings.Split(head, "\r\n") {
		if v, ok := strings.CutPrefix(line, "Path:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// binaryAudioPayload strips the framed header off a binary message and
// returns the PCM payload. Non-audio binary messages return ok=false.
func binaryAudioPayload(data []byte) ([]byte, bool) {
	if len(data) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+headerLen {
		return nil, false
	}
	if messagePath(data[2:2+headerLen]) != "audio" {
		return nil, false
	}
	payload := data[2+headerLen:]
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}
