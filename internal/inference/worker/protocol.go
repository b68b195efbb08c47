package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const maxFrameBytes = 256 << 20

const (
	opPing      = "ping"
	opLoad      = "load"
	opAttribute = "attribute"
	opClassify  = "classify"
	opDetect    = "detect"
	opPredict   = "predict"
	opUnload    = "unload"
)

type request struct {
	ID     uint64         `msgpack:"id"`
	Op     string         `msgpack:"op"`
	Handle string         `msgpack:"handle,omitempty"`
	Spec   *specPayload   `msgpack:"spec,omitempty"`
	Tensor *tensorPayload `msgpack:"tensor,omitempty"`
	Image  *imagePayload  `msgpack:"image,omitempty"`
	Class  int            `msgpack:"class"`
}

type response struct {
	ID          uint64              `msgpack:"id"`
	OK          bool                `msgpack:"ok"`
	Error       string              `msgpack:"error,omitempty"`
	ErrorKind   string              `msgpack:"error_kind,omitempty"`
	Handle      string              `msgpack:"handle,omitempty"`
	Logits      []float32           `msgpack:"logits,omitempty"`
	Activations *tensorPayload      `msgpack:"activations,omitempty"`
	Gradients   *tensorPayload      `msgpack:"gradients,omitempty"`
	Boxes       [][4]float32        `msgpack:"boxes,omitempty"`
	Predictions []predictionPayload `msgpack:"predictions,omitempty"`
}

type specPayload struct {
	Kind        string `msgpack:"kind"`
	Backbone    string `msgpack:"backbone,omitempty"`
	WeightsPath string `msgpack:"weights_path,omitempty"`
	NumClasses  int    `msgpack:"num_classes,omitempty"`
	Pretrained  bool   `msgpack:"pretrained"`
	Device      string `msgpack:"device,omitempty"`
}

// tensorPayload carries a CHW tensor; Shape is [C, H, W].
type tensorPayload struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// imagePayload carries packed rgb24 pixels.
type imagePayload struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	RGB    []byte `msgpack:"rgb"`
}

type predictionPayload struct {
	Label string  `msgpack:"label"`
	Score float64 `msgpack:"score"`
}

func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameBytes {
		return fmt.Errorf("frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
