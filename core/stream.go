package core

import (
	"fmt"

	"github.com/tsawler/folio/internal/filters"
)

// Decode decodes the stream data according to the Filter(s) specified in the
// stream dictionary, applying filter chains in order. Image codecs (DCT, JPX,
// JBIG2) are left encoded for the image layer; decoding stops at the first one.
func (s *Stream) Decode() ([]byte, error) {
	filterObj := s.Dict.Get("Filter")
	if filterObj == nil {
		return s.Data, nil
	}

	paramsObj := s.Dict.Get("DecodeParms")
	if paramsObj == nil {
		paramsObj = s.Dict.Get("DP")
	}

	switch f := filterObj.(type) {
	case Name:
		return decodeWithFilter(s.Data, string(f), paramsObjToDict(paramsObj))

	case Array:
		data := s.Data
		for i, filter := range f {
			filterName, ok := filter.(Name)
			if !ok {
				return nil, fmt.Errorf("filter %d is not a name: %T", i, filter)
			}

			var params Dict
			if paramsArray, ok := paramsObj.(Array); ok {
				if i < len(paramsArray) {
					params = paramsObjToDict(paramsArray[i])
				}
			} else {
				params = paramsObjToDict(paramsObj)
			}

			if filters.IsImageCodec(string(filterName)) {
				return data, nil
			}

			var err error
			data, err = decodeWithFilter(data, string(filterName), params)
			if err != nil {
				return nil, fmt.Errorf("filter %d (%s) failed: %w", i, filterName, err)
			}
		}
		return data, nil
	}

	return nil, fmt.Errorf("invalid Filter type: %T", filterObj)
}

// decodeWithFilter applies a single filter by name.
func decodeWithFilter(data []byte, filterName string, params Dict) ([]byte, error) {
	return filters.Decode(filterName, data, dictToParams(params))
}

// paramsObjToDict converts a DecodeParms object to a Dict.
// Returns nil if the object is nil, Null, or not a Dict.
func paramsObjToDict(obj Object) Dict {
	if dict, ok := obj.(Dict); ok {
		return dict
	}
	return nil
}

// dictToParams reads the /DecodeParms entries the filters understand.
func dictToParams(dict Dict) *filters.Params {
	p := filters.DefaultParams()
	if dict == nil {
		return p
	}
	ints := map[string]*int{
		"Predictor":        &p.Predictor,
		"Colors":           &p.Colors,
		"BitsPerComponent": &p.BitsPerComponent,
		"Columns":          &p.Columns,
		"EarlyChange":      &p.EarlyChange,
		"K":                &p.K,
		"Rows":             &p.Rows,
	}
	for key, dst := range ints {
		if v, ok := dict.GetInt(key); ok {
			*dst = int(v)
		}
	}
	if v, ok := dict.GetBool("BlackIs1"); ok {
		p.BlackIs1 = bool(v)
	}
	return p
}
