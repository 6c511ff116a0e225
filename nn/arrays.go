package nn

// ArrayKind names the buffers a layer may own.
type ArrayKind int

const (
	Outputs ArrayKind = iota
	Gradients
	Weights
	BiasWeights
	WeightUpdates
	LastWeightUpdates
	BiasWeightUpdates
	LastBiasWeightUpdates
	BiasMultiplier
	CorrectlyPredictedLabels
	DropoutMask
	Noise

	arrayKindCount
)

var arrayKindNames = [arrayKindCount]string{
	Outputs:                  "Outputs",
	Gradients:                "Gradients",
	Weights:                  "Weights",
	BiasWeights:              "BiasWeights",
	WeightUpdates:            "WeightUpdates",
	LastWeightUpdates:        "LastWeightUpdates",
	BiasWeightUpdates:        "BiasWeightUpdates",
	LastBiasWeightUpdates:    "LastBiasWeightUpdates",
	BiasMultiplier:           "BiasMultiplier",
	CorrectlyPredictedLabels: "CorrectlyPredictedLabels",
	DropoutMask:              "DropoutMask",
	Noise:                    "Noise",
}

func (k ArrayKind) String() string {
	if k < 0 || k >= arrayKindCount {
		return "Unknown"
	}
	return arrayKindNames[k]
}
