package models

// TransformParameters mirrors the DEFAULT section of transform.conf.
// An empty Columns slice selects every column of a file.
type TransformParameters struct {
	Columns   []string `json:"columns"`
	Method    string   `json:"method"`
	ChunkSize int      `json:"chunkSize"`
	FFTSize   int      `json:"fftSize"`
}

// ModelParameters mirrors parameters.conf.
type ModelParameters struct {
	ModelType    string  `json:"modelType"`
	NumBlocks    int     `json:"numBlocks"`
	NumFilters   []int   `json:"numFilters"`
	LearningRate float64 `json:"learningRate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batchSize"`
}

// LabelFiles lists the training files registered under one label.
type LabelFiles struct {
	Label string   `json:"label"`
	Files []string `json:"files"`
}
