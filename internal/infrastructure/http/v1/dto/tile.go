package dto

type TileRequest struct {
	Z uint32 `uri:"z" validate:"lte=30"`
	X uint32 `uri:"x"`
	Y uint32 `uri:"y"`
}

type MetadataResponse struct {
	Metadata map[string]string `json:"metadata"`
	Tiles    int64             `json:"tiles"`
	Images   int64             `json:"images"`
}
