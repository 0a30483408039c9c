package fingerprint

import (
	"image"

	"github.com/corona10/goimagehash"
)

const perceptualHashBits = 64

// ImageHasher is the perceptual hash capability. The null implementation keeps
// the image channel "unavailable" without branching at call sites.
type ImageHasher interface {
	Hashes(img image.Image) (phash, dhash string, vector []float64, err error)
	Distance(a, b string) (int, error)
}

type PerceptualHasher struct{}

func (PerceptualHasher) Hashes(img image.Image) (string, string, []float64, error) {
	phash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", "", nil, err
	}
	dhash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", "", nil, err
	}
	bits := phash.GetHash()
	vector := make([]float64, perceptualHashBits)
	for i := 0; i < perceptualHashBits; i++ {
		if bits&(1<<uint(perceptualHashBits-1-i)) != 0 {
			vector[i] = 1
		}
	}
	return phash.ToString(), dhash.ToString(), vector, nil
}

func (PerceptualHasher) Distance(a, b string) (int, error) {
	hashA, err := goimagehash.ImageHashFromString(a)
	if err != nil {
		return 0, err
	}
	hashB, err := goimagehash.ImageHashFromString(b)
	if err != nil {
		return 0, err
	}
	return hashA.Distance(hashB)
}

type NullHasher struct{}

func (NullHasher) Hashes(image.Image) (string, string, []float64, error) {
	return "", "", nil, nil
}

func (NullHasher) Distance(string, string) (int, error) {
	return perceptualHashBits, nil
}
