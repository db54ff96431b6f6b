package zarr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "bool", "int8", "uint8":
		return 1, nil
	case "int16", "uint16", "float16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// decodeValues converts raw chunk bytes into float64 values.
func decodeValues(dataType string, order binary.ByteOrder, data []byte) ([]float64, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("chunk length %d is not a multiple of %s size %d", len(data), dataType, size)
	}

	n := len(data) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*size : (i+1)*size]
		switch dataType {
		case "bool":
			if b[0] != 0 {
				out[i] = 1
			}
		case "int8":
			out[i] = float64(int8(b[0]))
		case "uint8":
			out[i] = float64(b[0])
		case "int16":
			out[i] = float64(int16(order.Uint16(b)))
		case "uint16":
			out[i] = float64(order.Uint16(b))
		case "float16":
			out[i] = float64(float16.Frombits(order.Uint16(b)).Float32())
		case "int32":
			out[i] = float64(int32(order.Uint32(b)))
		case "uint32":
			out[i] = float64(order.Uint32(b))
		case "float32":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "int64":
			out[i] = float64(int64(order.Uint64(b)))
		case "uint64":
			out[i] = float64(order.Uint64(b))
		case "float64":
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}

// encodeValues is the inverse of decodeValues. Integer types truncate toward zero.
func encodeValues(dataType string, order binary.ByteOrder, values []float64) ([]byte, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(values)*size)
	for i, v := range values {
		b := out[i*size : (i+1)*size]
		switch dataType {
		case "bool":
			if v != 0 {
				b[0] = 1
			}
		case "int8":
			b[0] = byte(int8(v))
		case "uint8":
			b[0] = byte(v)
		case "int16":
			order.PutUint16(b, uint16(int16(v)))
		case "uint16":
			order.PutUint16(b, uint16(v))
		case "float16":
			order.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		case "int32":
			order.PutUint32(b, uint32(int32(v)))
		case "uint32":
			order.PutUint32(b, uint32(v))
		case "float32":
			order.PutUint32(b, math.Float32bits(float32(v)))
		case "int64":
			order.PutUint64(b, uint64(int64(v)))
		case "uint64":
			order.PutUint64(b, uint64(v))
		case "float64":
			order.PutUint64(b, math.Float64bits(v))
		}
	}
	return out, nil
}

// fillValue resolves the array's fill_value; unspecified means 0.
func fillValue(meta *ArrayMeta) (float64, error) {
	switch t := meta.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unsupported fill_value %q for %s", t, meta.DataType)
	default:
		return 0, fmt.Errorf("unsupported fill_value type for %s: %T", meta.DataType, meta.FillValue)
	}
}
