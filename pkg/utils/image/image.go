package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"shader-cam/pkg/utils/rgb"
)

const DefaultQuality = 85

func RGBToRGBA(in *rgb.RGB, out []byte) {
	width, height := in.Rect.Dx(), in.Rect.Dy()
	outStride := width * 4

	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := in.PixOffset(0, i)
		for j := 0; j < width; j++ {
			out[oIndex] = in.Pix[iIndex]
			out[oIndex+1] = in.Pix[iIndex+1]
			out[oIndex+2] = in.Pix[iIndex+2]
			out[oIndex+3] = 0xff

			oIndex += 4
			iIndex += 3
		}
	}
}

// YUYVToRGB converts a packed YUYV 4:2:2 frame into packed RGB24. out must
// hold width*height*3 bytes. A stride of zero means rows are packed.
func YUYVToRGB(in []byte, width, height, stride int, out []byte) {
	if stride == 0 {
		stride = width * 2
	}
	o := 0
	for y := 0; y < height; y++ {
		row := in[y*stride : y*stride+width*2]
		for x := 0; x+1 < width; x += 2 {
			p := row[x*2 : x*2+4 : x*2+4]
			r, g, b := color.YCbCrToRGB(p[0], p[1], p[3])
			out[o], out[o+1], out[o+2] = r, g, b
			r, g, b = color.YCbCrToRGB(p[2], p[1], p[3])
			out[o+3], out[o+4], out[o+5] = r, g, b
			o += 6
		}
		if width%2 == 1 {
			p := row[(width-1)*2:]
			r, g, b := color.YCbCrToRGB(p[0], p[1], 128)
			out[o], out[o+1], out[o+2] = r, g, b
			o += 3
		}
	}
}

// DecodeRGB copies a raw RGB24 frame into a new RGBA image.
func DecodeRGB(data []byte, width, height, stride int) image.Image {
	i := image.NewRGBA(image.Rect(0, 0, width, height))
	RGBToRGBA(rgb.NewRGB(data, width, height, stride), i.Pix)

	return i
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

// JPEGBytes encodes img into buf, which is reset first, and returns a copy of
// the encoded bytes.
func JPEGBytes(img image.Image, buf *bytes.Buffer, quality int) ([]byte, error) {
	buf.Reset()
	if err := EncodeJPEG(img, buf, quality); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}
