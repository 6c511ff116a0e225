// Package nn provides a minimal minibatch neural-network training engine for
// wide sparse inputs, executed on a gpu.Device.
//
// A Network is a strictly linear chain of layers:
//   - one input DataLayer (dense, or sparse one-hot features)
//   - one label DataLayer holding the class index of every record
//   - content layers: FullyConnected, Relu, Tanh, Maxout, Dropout
//   - exactly one SoftmaxCost layer, added last together with its FC layer
//
// Each layer's inputs are the previous layer's Outputs array, shared by
// reference. Calculate walks the chain forward, BackPropagate and
// ApplyWeightUpdates walk it in reverse.
//
// Example usage:
//
//	dev := gpu.Open(false)
//	net := nn.NewNetwork(dev, 128, 1)
//	net.AddInputLayer(features, 1, 0)
//	net.AddLabelLayer(1, 1)
//	net.AddFullyConnectedLayer(64, "")
//	net.AddReluLayer("")
//	net.AddSoftmaxLayer(2, "SM")
//	net.CopyToDevice()
//
//	trainer, _ := nn.NewTrainer(net, trainProvider, testProvider, *nn.DefaultTrainConfig())
//	result, _ := trainer.Run()
package nn
