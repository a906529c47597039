package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
)

// fallbackSpeakers is served as the speaker catalog when the synthesis
// backend cannot be reached. It follows the backend's /speakers shape.
var fallbackSpeakers = json.RawMessage(`[
	{
		"name": "四国めたん",
		"speaker_uuid": "7ffcb7ce-00ec-4bdc-82cd-45a8889e43ff",
		"styles": [{"name": "ノーマル", "id": 2}, {"name": "あまあま", "id": 0}],
		"version": "mock"
	},
	{
		"name": "ずんだもん",
		"speaker_uuid": "388f246b-8c41-4ac1-8e2d-5d79f3ff56d9",
		"styles": [{"name": "ノーマル", "id": 3}, {"name": "あまあま", "id": 1}],
		"version": "mock"
	},
	{
		"name": "春日部つむぎ",
		"speaker_uuid": "35b2c544-660e-401e-b503-0e14c635303a",
		"styles": [{"name": "ノーマル", "id": 8}],
		"version": "mock"
	}
]`)

const (
	silenceSampleRate = 24000
	silenceSeconds    = 1
)

// silentWav is a mono 16-bit PCM WAV holding one second of silence.
var silentWav = func() []byte {
	dataSize := uint32(silenceSampleRate * silenceSeconds * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))                  // chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))                   // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))                   // channels
	binary.Write(&buf, binary.LittleEndian, uint32(silenceSampleRate))   // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(silenceSampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))                   // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))                  // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}()

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
