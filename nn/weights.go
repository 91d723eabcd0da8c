package nn

import (
	"fmt"

	"cipherllama/tensor"
	"cipherllama/utils"
)

// ExportWeights collects every learned tensor under stable names so a model
// can be persisted and rebuilt deterministically.
func (m *Transformer) ExportWeights() *utils.ModelWeights {
	w := utils.NewModelWeights()
	put := func(name string, t *tensor.Tensor) {
		w.Layers[name] = utils.TensorToWeightData(name, t)
	}
	put("tok_embeddings", m.TokEmbeddings.Weight)
	put("norm", m.Norm.Weight)
	put("output", m.Output.W)
	for i, layer := range m.Layers {
		prefix := fmt.Sprintf("layers.%d.", i)
		put(prefix+"attention.wq", layer.Attention.Wq.W)
		put(prefix+"attention.wk", layer.Attention.Wk.W)
		put(prefix+"attention.wv", layer.Attention.Wv.W)
		put(prefix+"attention.wo", layer.Attention.Wo.W)
		put(prefix+"feed_forward.w1", layer.FeedForward.W1.W)
		put(prefix+"feed_forward.w2", layer.FeedForward.W2.W)
		put(prefix+"feed_forward.w3", layer.FeedForward.W3.W)
		put(prefix+"attention_norm", layer.AttentionNorm.Weight)
		put(prefix+"ffn_norm", layer.FFNNorm.Weight)
	}
	return w
}

// ApplyWeights copies a previously exported weight set into the model. Every
// named tensor must exist and match the model's shape.
func (m *Transformer) ApplyWeights(w *utils.ModelWeights) error {
	take := func(name string, dst *tensor.Tensor) error {
		wd, ok := w.Layers[name]
		if !ok {
			return fmt.Errorf("weights: missing tensor %q", name)
		}
		src := utils.WeightDataToTensor(wd)
		if src.Size() != dst.Size() {
			return fmt.Errorf("weights: %w for %q: file %v vs model %v", ErrShapeMismatch, name, src.Shape, dst.Shape)
		}
		copy(dst.Data, src.Data)
		return nil
	}
	if err := take("tok_embeddings", m.TokEmbeddings.Weight); err != nil {
		return err
	}
	if err := take("norm", m.Norm.Weight); err != nil {
		return err
	}
	if err := take("output", m.Output.W); err != nil {
		return err
	}
	for i, layer := range m.Layers {
		prefix := fmt.Sprintf("layers.%d.", i)
		pairs := []struct {
			name string
			dst  *tensor.Tensor
		}{
			{prefix + "attention.wq", layer.Attention.Wq.W},
			{prefix + "attention.wk", layer.Attention.Wk.W},
			{prefix + "attention.wv", layer.Attention.Wv.W},
			{prefix + "attention.wo", layer.Attention.Wo.W},
			{prefix + "feed_forward.w1", layer.FeedForward.W1.W},
			{prefix + "feed_forward.w2", layer.FeedForward.W2.W},
			{prefix + "feed_forward.w3", layer.FeedForward.W3.W},
			{prefix + "attention_norm", layer.AttentionNorm.Weight},
			{prefix + "ffn_norm", layer.FFNNorm.Weight},
		}
		for _, p := range pairs {
			if err := take(p.name, p.dst); err != nil {
				return err
			}
		}
	}
	return nil
}
