package predict

import (
	"math"
	"math/rand/v2"
)

// Model names as written to model.json and reports.
const (
	ModelRandomForest     = "random_forest"
	ModelGradientBoosting = "gradient_boosting"
	ModelLogistic         = "logistic_regression"
)

// Classifier is a multi-class model over dense feature rows.
type Classifier interface {
	Name() string
	Fit(X [][]float64, y []int, classes int, rng *rand.Rand)
	PredictProba(x []float64) []float64
	// Importances are normalized to sum to 1.
	Importances() []float64
}

func newClassifiers() []Classifier {
	return []Classifier{
		&RandomForest{Trees: 50, MaxDepth: 8, MinLeaf: 2},
		&GradientBoosting{Rounds: 40, LearningRate: 0.1, MaxDepth: 3, MinLeaf: 2},
		&Logistic{Epochs: 300, LearningRate: 0.1, L2: 0.01},
	}
}

// predictClass returns the argmax class and its probability.
func predictClass(c Classifier, x []float64) (int, float64) {
	probs := c.PredictProba(x)
	best := 0
	for k, p := range probs {
		if p > probs[best] {
			best = k
		}
	}
	return best, probs[best]
}

// RandomForest bags classification trees over bootstrap samples with sqrt(n)
// features per split.
type RandomForest struct {
	Trees    int `json:"n_trees"`
	MaxDepth int `json:"max_depth"`
	MinLeaf  int `json:"min_leaf"`

	Forest     []*Tree   `json:"trees,omitempty"`
	Classes    int       `json:"classes,omitempty"`
	Importance []float64 `json:"importances,omitempty"`
}

func (m *RandomForest) Name() string { return ModelRandomForest }

func (m *RandomForest) Fit(X [][]float64, y []int, classes int, rng *rand.Rand) {
	m.Classes = classes
	m.Forest = nil
	b := &treeBuilder{
		X: X, y: y, classes: classes,
		maxDepth: m.MaxDepth, minLeaf: m.MinLeaf,
		maxFeatures: max(1, int(math.Sqrt(float64(len(X[0]))))),
		rng:         rng,
	}
	for range m.Trees {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.IntN(len(X))
		}
		m.Forest = append(m.Forest, b.build(idx))
	}
	m.Importance = normalize(b.importances)
}

func (m *RandomForest) PredictProba(x []float64) []float64 {
	out := make([]float64, m.Classes)
	for _, t := range m.Forest {
		for k, p := range t.leaf(x) {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(m.Forest))
	}
	return out
}

func (m *RandomForest) Importances() []float64 { return m.Importance }

// GradientBoosting fits one regression tree per class per round on the
// softmax residuals.
type GradientBoosting struct {
	Rounds       int     `json:"rounds"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`

	Init       []float64 `json:"init,omitempty"`
	Stages     [][]*Tree `json:"stages,omitempty"`
	Importance []float64 `json:"importances,omitempty"`
}

func (m *GradientBoosting) Name() string { return ModelGradientBoosting }

func (m *GradientBoosting) Fit(X [][]float64, y []int, classes int, rng *rand.Rand) {
	n := len(X)
	counts := make([]float64, classes)
	for _, c := range y {
		counts[c]++
	}
	m.Init = make([]float64, classes)
	for k := range m.Init {
		m.Init[k] = math.Log((counts[k] + 1) / (float64(n) + float64(classes)))
	}

	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = append([]float64(nil), m.Init...)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	residual := make([]float64, n)
	b := &treeBuilder{X: X, regression: true, target: residual, maxDepth: m.MaxDepth, minLeaf: m.MinLeaf, rng: rng}

	m.Stages = nil
	for range m.Rounds {
		probs := make([][]float64, n)
		for i := range scores {
			probs[i] = softmax(scores[i])
		}
		stage := make([]*Tree, classes)
		for k := range classes {
			for i := range residual {
				target := 0.0
				if y[i] == k {
					target = 1
				}
				residual[i] = target - probs[i][k]
			}
			stage[k] = b.build(idx)
			for i, x := range X {
				scores[i][k] += m.LearningRate * stage[k].leaf(x)[0]
			}
		}
		m.Stages = append(m.Stages, stage)
	}
	m.Importance = normalize(b.importances)
}

func (m *GradientBoosting) PredictProba(x []float64) []float64 {
	scores := append([]float64(nil), m.Init...)
	for _, stage := range m.Stages {
		for k, t := range stage {
			scores[k] += m.LearningRate * t.leaf(x)[0]
		}
	}
	return softmax(scores)
}

func (m *GradientBoosting) Importances() []float64 { return m.Importance }

// Logistic is L2-regularized multinomial logistic regression over
// standardized features, trained by batch gradient descent.
type Logistic struct {
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`

	Mean    []float64   `json:"mean,omitempty"`
	Scale   []float64   `json:"scale,omitempty"`
	Weights [][]float64 `json:"weights,omitempty"`
	Bias    []float64   `json:"bias,omitempty"`
}

func (m *Logistic) Name() string { return ModelLogistic }

func (m *Logistic) Fit(X [][]float64, y []int, classes int, _ *rand.Rand) {
	n, nf := len(X), len(X[0])
	m.Mean = make([]float64, nf)
	m.Scale = make([]float64, nf)
	for j := range nf {
		col := make([]float64, n)
		for i := range X {
			col[i] = X[i][j]
		}
		mu, sd := meanStd(col)
		if sd == 0 {
			sd = 1
		}
		m.Mean[j], m.Scale[j] = mu, sd
	}
	Z := make([][]float64, n)
	for i, x := range X {
		Z[i] = m.standardize(x)
	}

	m.Weights = make([][]float64, classes)
	for k := range m.Weights {
		m.Weights[k] = make([]float64, nf)
	}
	m.Bias = make([]float64, classes)

	gradW := make([][]float64, classes)
	for k := range gradW {
		gradW[k] = make([]float64, nf)
	}
	gradB := make([]float64, classes)
	for range m.Epochs {
		for k := range classes {
			clear(gradW[k])
		}
		clear(gradB)
		for i, z := range Z {
			p := softmax(m.scores(z))
			for k := range classes {
				d := p[k]
				if y[i] == k {
					d -= 1
				}
				gradB[k] += d
				for j, v := range z {
					gradW[k][j] += d * v
				}
			}
		}
		for k := range classes {
			m.Bias[k] -= m.LearningRate * gradB[k] / float64(n)
			for j := range nf {
				g := gradW[k][j]/float64(n) + m.L2*m.Weights[k][j]
				m.Weights[k][j] -= m.LearningRate * g
			}
		}
	}
}

func (m *Logistic) standardize(x []float64) []float64 {
	z := make([]float64, len(x))
	for j, v := range x {
		z[j] = (v - m.Mean[j]) / m.Scale[j]
	}
	return z
}

func (m *Logistic) scores(z []float64) []float64 {
	s := make([]float64, len(m.Weights))
	for k, w := range m.Weights {
		s[k] = m.Bias[k]
		for j, v := range z {
			s[k] += w[j] * v
		}
	}
	return s
}

func (m *Logistic) PredictProba(x []float64) []float64 {
	return softmax(m.scores(m.standardize(x)))
}

// Importances are the mean absolute standardized weights per feature.
func (m *Logistic) Importances() []float64 {
	if len(m.Weights) == 0 {
		return nil
	}
	imp := make([]float64, len(m.Weights[0]))
	for _, w := range m.Weights {
		for j, v := range w {
			imp[j] += math.Abs(v)
		}
	}
	return normalize(imp)
}

func softmax(s []float64) []float64 {
	hi := math.Inf(-1)
	for _, v := range s {
		hi = max(hi, v)
	}
	out := make([]float64, len(s))
	var sum float64
	for k, v := range s {
		out[k] = math.Exp(v - hi)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}
