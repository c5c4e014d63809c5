package veyon

import (
	"encoding/json"
	"mime"
	"strings"
)

const (
	mediaText = "text/plain"
	mediaJSON = "application/json"
	mediaJPEG = "image/jpeg"
	mediaPNG  = "image/png"
)

// mediaType strips parameters such as charset from a Content-Type header
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// errorBody is the WebAPI's JSON error envelope
type errorBody struct {
	Error *struct {
		Message *string `json:"message"`
		Code    *int    `json:"code"`
	} `json:"error"`
}

// decodeFailure turns an unsuccessful response into an *APIError, or a
// *DefectError if a declared JSON body does not carry error.message and
// error.code.
func decodeFailure(resp *Response) error {
	if mediaType(resp.ContentType) != mediaJSON {
		return NewAPIError(resp.Status, string(resp.Body), CodeNone)
	}
	var eb errorBody
	if err := json.Unmarshal(resp.Body, &eb); err != nil {
		return &DefectError{HTTPStatus: resp.Status, ContentType: resp.ContentType, Reason: "undecodable JSON error body: " + err.Error()}
	}
	if eb.Error == nil || eb.Error.Message == nil || eb.Error.Code == nil {
		return &DefectError{HTTPStatus: resp.Status, ContentType: resp.ContentType, Reason: "JSON error body lacks error.message or error.code"}
	}
	return NewAPIError(resp.Status, *eb.Error.Message, *eb.Error.Code)
}

// decodeJSON parses a successful JSON response into v
func decodeJSON(resp *Response, v interface{}) error {
	if !resp.OK() {
		return decodeFailure(resp)
	}
	if mediaType(resp.ContentType) != mediaJSON {
		return unexpectedType(resp, mediaJSON)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &DefectError{HTTPStatus: resp.Status, ContentType: resp.ContentType, Reason: err.Error()}
	}
	return nil
}

// decodeImage returns the bytes of a successful image response
func decodeImage(resp *Response) ([]byte, error) {
	if !resp.OK() {
		return nil, decodeFailure(resp)
	}
	switch mediaType(resp.ContentType) {
	case mediaJPEG, mediaPNG:
		return resp.Body, nil
	}
	return nil, unexpectedType(resp, mediaJPEG)
}

// decodeEmpty accepts any successful response whose type is one the client
// knows how to read; the payload is discarded.
func decodeEmpty(resp *Response) error {
	if !resp.OK() {
		return decodeFailure(resp)
	}
	switch mediaType(resp.ContentType) {
	case mediaText, mediaJSON, mediaJPEG, mediaPNG:
		return nil
	case "":
		if len(resp.Body) == 0 {
			return nil
		}
	}
	return unexpectedType(resp, mediaJSON)
}

func unexpectedType(resp *Response, want string) error {
	return &DefectError{
		HTTPStatus:  resp.Status,
		ContentType: resp.ContentType,
		Reason:      "expected " + want,
	}
}
